// Package auth verifies the bearer credentials presented on requests and on
// socket handshakes, and issues them on login.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/charlieegan3/social-relay/internal/apperr"
)

// Identity is the verified claim produced from a credential.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
}

// Claims are the JWT claims carried by issued tokens. The user ID is the
// subject.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator returns an Authenticator using secret as the HMAC key.
func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for the given user.
func (a *Authenticator) Issue(userID, username string) (string, error) {
	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", apperr.Internal(err, "failed to sign token")
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns the identity
// it carries. Any failure is an authentication error.
func (a *Authenticator) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.Authentication("missing credential")
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Authentication("credential expired")
		}
		return Identity{}, apperr.Authentication("invalid credential")
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, apperr.Authentication("invalid credential")
	}

	return Identity{UserID: claims.Subject, Username: claims.Username}, nil
}
