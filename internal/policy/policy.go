// Package policy selects the engine that decides whether one user may send
// a friend request to, or message, another.
//
// The same rule is implemented in plain Go, Rego, Polar and CUE. They are
// interchangeable and chosen by name at startup.
package policy

import (
	"context"
	"fmt"

	"github.com/charlieegan3/social-relay/internal/policy/cue"
	"github.com/charlieegan3/social-relay/internal/policy/golang"
	"github.com/charlieegan3/social-relay/internal/policy/polar"
	"github.com/charlieegan3/social-relay/internal/policy/rego"
	"github.com/charlieegan3/social-relay/internal/types"
)

// Authorizer decides a single policy input.
type Authorizer interface {
	Allow(ctx context.Context, input types.PolicyInput) (bool, error)
}

// Engines lists the engine names accepted by New.
var Engines = []string{"golang", "rego", "polar", "cue"}

// New returns the Authorizer for the named engine.
func New(engine string) (Authorizer, error) {
	switch engine {
	case "golang":
		return golang.NewAuthorizer(), nil
	case "rego":
		return rego.NewAuthorizer()
	case "polar":
		return polar.NewAuthorizer()
	case "cue":
		return cue.NewAuthorizer()
	default:
		return nil, fmt.Errorf("unknown policy engine %q", engine)
	}
}
