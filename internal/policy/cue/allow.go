package cue

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"

	"github.com/charlieegan3/social-relay/internal/types"
)

// config is our CUE 'policy' code
const config = `
actor: string
target: string
blocked: [...string]

_matched: [
	for b in blocked
	if b == actor {
		b
	}
]

allowed: len(_matched) == 0
`

type Authorizer struct {
	// the runtime is shared between decisions
	mu       sync.Mutex
	rt       cue.Runtime
	instance *cue.Instance
}

func NewAuthorizer() (*Authorizer, error) {
	a := &Authorizer{}

	// first compile the cue code to make sure it's valid
	instance, err := a.rt.Compile("allow", config)
	if err != nil {
		return nil, fmt.Errorf("policy failed to compile: %w", err)
	}
	a.instance = instance

	return a, nil
}

func (a *Authorizer) Allow(_ context.Context, input types.PolicyInput) (bool, error) {
	blocked := input.Blocked
	if blocked == nil {
		blocked = []string{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// next, populate the instance with the decision input
	instance, err := a.instance.Fill(input.Actor, "actor")
	if err != nil {
		return false, err
	}
	instance, err = instance.Fill(input.Target, "target")
	if err != nil {
		return false, err
	}
	instance, err = instance.Fill(blocked, "blocked")
	if err != nil {
		return false, err
	}

	allowed, err := instance.Lookup("allowed").Bool()
	if err != nil {
		return false, fmt.Errorf("failed to read decision: %w", err)
	}

	return allowed, nil
}
