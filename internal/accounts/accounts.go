// Package accounts registers users and exchanges passwords for bearer
// tokens.
package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/types"
)

type Store interface {
	CreateUser(ctx context.Context, u *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
}

// Issuer signs tokens for logged in users.
type Issuer interface {
	Issue(userID, username string) (string, error)
}

type Service struct {
	store  Store
	issuer Issuer
	cost   int
}

func NewService(store Store, issuer Issuer) *Service {
	return &Service{store: store, issuer: issuer, cost: bcrypt.DefaultCost}
}

// Signup is the input to Register
type Signup struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// Register creates a user with a hashed password.
func (s *Service) Register(ctx context.Context, in Signup) (*types.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, apperr.Invalid("username and password cannot be empty")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, apperr.Invalid("password cannot be longer than 72 bytes")
	}
	if err != nil {
		return nil, apperr.Internal(err, "password hashing failed")
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	u := &types.User{
		Username:     username,
		DisplayName:  displayName,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: string(hashed),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"user":     u.ID,
		"username": u.Username,
	}).Info("User registered")

	return u, nil
}

// Login checks the password and returns a signed token for the user.
func (s *Service) Login(ctx context.Context, username, password string) (string, *types.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if apperr.Is(err, apperr.KindNotFound) {
		return "", nil, apperr.Authentication("invalid username or password")
	}
	if err != nil {
		return "", nil, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return "", nil, apperr.Authentication("invalid username or password")
	}
	if err != nil {
		return "", nil, apperr.Internal(err, "failed to check password")
	}

	token, err := s.issuer.Issue(u.ID, u.Username)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Get returns the user record for id.
func (s *Service) Get(ctx context.Context, id string) (*types.User, error) {
	return s.store.GetUser(ctx, id)
}
