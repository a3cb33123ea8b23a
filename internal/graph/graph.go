// Package graph implements the friend-request state machine over a user
// store.
//
// The state of an ordered pair (requester, target) is NONE, PENDING or
// FRIEND. Requests are directional until accepted. A friendship is a single
// undirected edge, so both users always observe the same state.
package graph

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/types"
)

// Store holds the social graph. Every mutating method checks its
// precondition and applies its change atomically, returning a conflict
// error when the precondition does not hold.
type Store interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetProfiles(ctx context.Context, ids []string) ([]types.Profile, error)

	// CreateRequest records PENDING(sender->recipient). It fails with a
	// conflict if the pair are friends or a request exists in either
	// direction, and with an authorization error if recipient has blocked
	// sender.
	CreateRequest(ctx context.Context, sender, recipient string) error
	// AcceptRequest removes PENDING(requester->user) and creates the
	// friendship edge.
	AcceptRequest(ctx context.Context, user, requester string) error
	// RemoveRequest deletes PENDING(requester->user), reporting whether it
	// existed.
	RemoveRequest(ctx context.Context, user, requester string) (bool, error)
	// RemoveFriend deletes the friendship edge.
	RemoveFriend(ctx context.Context, user, other string) error

	// Block records that user blocks other and drops PENDING(other->user)
	// in the same write.
	Block(ctx context.Context, user, other string) error
	Unblock(ctx context.Context, user, other string) error

	// Suggestions returns users with no friendship, pending request or
	// block with user in either direction, excluding user.
	Suggestions(ctx context.Context, user string, limit int) ([]types.Profile, error)
	// SearchUsers matches query case-insensitively against display names
	// and usernames.
	SearchUsers(ctx context.Context, query string, limit int) ([]types.Profile, error)

	// Repair removes pending requests between users who are already friends
	// and returns how many it removed.
	Repair(ctx context.Context) (int, error)
}

// Authorizer decides whether an actor may contact a target.
type Authorizer interface {
	Allow(ctx context.Context, input types.PolicyInput) (bool, error)
}

// Service is the friend-request state machine.
type Service struct {
	store Store
	authz Authorizer
}

func NewService(store Store, authz Authorizer) *Service {
	return &Service{store: store, authz: authz}
}

// SendRequest creates a pending request from requester to target.
func (s *Service) SendRequest(ctx context.Context, requester, target string) error {
	if requester == target {
		return apperr.Conflict("cannot send a friend request to yourself")
	}

	t, err := s.store.GetUser(ctx, target)
	if err != nil {
		return err
	}

	if err := s.authorize(ctx, requester, t); err != nil {
		return err
	}

	if err := s.store.CreateRequest(ctx, requester, target); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SendRequest",
		"requester": requester,
		"target":    target,
	}).Info("Friend request sent")

	return nil
}

// AcceptRequest accepts the pending request from requester to user.
func (s *Service) AcceptRequest(ctx context.Context, user, requester string) error {
	if err := s.store.AcceptRequest(ctx, user, requester); err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			logrus.WithFields(logrus.Fields{
				"function":  "AcceptRequest",
				"user":      user,
				"requester": requester,
				"error":     err,
			}).Error("Accept failed, Repair reconciles any partial write")
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "AcceptRequest",
		"user":      user,
		"requester": requester,
	}).Info("Friend request accepted")

	return nil
}

// RejectRequest drops the pending request from requester to user. It is
// idempotent: rejecting a request that does not exist succeeds.
func (s *Service) RejectRequest(ctx context.Context, user, requester string) error {
	removed, err := s.store.RemoveRequest(ctx, user, requester)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "RejectRequest",
		"user":      user,
		"requester": requester,
		"removed":   removed,
	}).Info("Friend request rejected")

	return nil
}

// Unfriend removes the friendship between user and other.
func (s *Service) Unfriend(ctx context.Context, user, other string) error {
	if err := s.store.RemoveFriend(ctx, user, other); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Unfriend",
		"user":     user,
		"other":    other,
	}).Info("Friendship removed")

	return nil
}

// PendingRequests returns the senders of requests awaiting user's decision,
// oldest first.
func (s *Service) PendingRequests(ctx context.Context, user string) ([]types.Profile, error) {
	u, err := s.store.GetUser(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.store.GetProfiles(ctx, u.FriendRequests)
}

// Friends returns user's friends.
func (s *Service) Friends(ctx context.Context, user string) ([]types.Profile, error) {
	u, err := s.store.GetUser(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.store.GetProfiles(ctx, u.Friends)
}

// Suggest returns users that user has no relation with.
func (s *Service) Suggest(ctx context.Context, user string, limit int) ([]types.Profile, error) {
	if _, err := s.store.GetUser(ctx, user); err != nil {
		return nil, err
	}
	return s.store.Suggestions(ctx, user, limit)
}

// Search returns the public profiles matching query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]types.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.Profile{}, nil
	}
	return s.store.SearchUsers(ctx, query, limit)
}

// Block stops other from sending requests or messages to user. Any request
// from other awaiting user's decision is dropped.
func (s *Service) Block(ctx context.Context, user, other string) error {
	if user == other {
		return apperr.Conflict("cannot block yourself")
	}
	if _, err := s.store.GetUser(ctx, other); err != nil {
		return err
	}
	if err := s.store.Block(ctx, user, other); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Block",
		"user":     user,
		"other":    other,
	}).Info("User blocked")

	return nil
}

func (s *Service) Unblock(ctx context.Context, user, other string) error {
	return s.store.Unblock(ctx, user, other)
}

// CanMessage reports whether sender may message receiver.
func (s *Service) CanMessage(ctx context.Context, sender, receiver string) error {
	if sender == receiver {
		return apperr.Invalid("cannot message yourself")
	}
	r, err := s.store.GetUser(ctx, receiver)
	if err != nil {
		return err
	}
	return s.authorize(ctx, sender, r)
}

// Repair reconciles state left behind by interrupted two-step writes.
func (s *Service) Repair(ctx context.Context) (int, error) {
	n, err := s.store.Repair(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Repair",
			"removed":  n,
		}).Warn("Removed pending requests shadowed by friendships")
	}
	return n, nil
}

func (s *Service) authorize(ctx context.Context, actor string, target *types.User) error {
	allowed, err := s.authz.Allow(ctx, types.PolicyInput{
		Actor:   actor,
		Target:  target.ID,
		Blocked: target.Blocked,
	})
	if err != nil {
		return apperr.Internal(err, "failed to evaluate policy")
	}
	if !allowed {
		return apperr.Authorization("%s does not accept requests or messages from you", target.Username)
	}
	return nil
}
