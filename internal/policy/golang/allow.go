package golang

import (
	"context"

	"github.com/charlieegan3/social-relay/internal/types"
)

// Authorizer is the go implementation of the block rule
type Authorizer struct{}

func NewAuthorizer() *Authorizer {
	return &Authorizer{}
}

// Allow permits the actor unless the target has blocked them
func (a *Authorizer) Allow(_ context.Context, input types.PolicyInput) (bool, error) {
	for _, blocked := range input.Blocked {
		if blocked == input.Actor {
			return false, nil
		}
	}
	return true, nil
}
