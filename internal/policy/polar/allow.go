package polar

import (
	"context"
	"fmt"
	"sync"

	"github.com/osohq/go-oso"

	"github.com/charlieegan3/social-relay/internal/types"
)

// policy code which permits the actor unless they appear in the target's
// block list
const policy = `
is_blocked(actor, blocked) if actor in blocked;
allow(actor, blocked) if not is_blocked(actor, blocked);
`

type Authorizer struct {
	// queries against a single Oso instance are serialised
	mu sync.Mutex
	o  oso.Oso
}

func NewAuthorizer() (*Authorizer, error) {
	o, err := oso.NewOso()
	if err != nil {
		return nil, fmt.Errorf("failed to create oso instance: %w", err)
	}

	if err := o.LoadString(policy); err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	return &Authorizer{o: o}, nil
}

func (a *Authorizer) Allow(_ context.Context, input types.PolicyInput) (bool, error) {
	blocked := input.Blocked
	if blocked == nil {
		blocked = []string{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	query, err := a.o.NewQueryFromRule("allow", input.Actor, blocked)
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	// don't care about getting all results, just that one exists
	result, err := query.Next()
	if err != nil {
		return false, fmt.Errorf("failed to run query: %w", err)
	}

	return result != nil, nil
}
