package policy

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/charlieegan3/social-relay/internal/types"
)

func TestEnginesAgree(t *testing.T) {
	authorizers := map[string]Authorizer{}
	for _, engine := range Engines {
		a, err := New(engine)
		if err != nil {
			t.Fatalf("failed to build %s authorizer: %s", engine, err)
		}
		authorizers[engine] = a
	}

	testCases := []struct {
		Description string
		Input       types.PolicyInput
		Expected    bool
	}{
		{
			Description: "alice may contact bob who has blocked nobody",
			Input:       types.PolicyInput{Actor: "alice", Target: "bob"},
			Expected:    true,
		},
		{
			Description: "alice may contact bob who has blocked carol",
			Input:       types.PolicyInput{Actor: "alice", Target: "bob", Blocked: []string{"carol"}},
			Expected:    true,
		},
		{
			Description: "alice may not contact bob who has blocked alice",
			Input:       types.PolicyInput{Actor: "alice", Target: "bob", Blocked: []string{"carol", "alice"}},
			Expected:    false,
		},
		{
			Description: "empty block list",
			Input:       types.PolicyInput{Actor: "alice", Target: "bob", Blocked: []string{}},
			Expected:    true,
		},
	}

	for _, tc := range testCases {
		for _, engine := range Engines {
			t.Run(fmt.Sprintf("%s %s", tc.Description, engine), func(t *testing.T) {
				got, err := authorizers[engine].Allow(context.Background(), tc.Input)
				if err != nil {
					t.Fatalf("failed to decide: %s", err)
				}

				if want := tc.Expected; got != want {
					t.Fatalf("unexpected decision: got %v want %v", got, want)
				}
			})
		}
	}
}

func TestEnginesAreSafeForConcurrentUse(t *testing.T) {
	for _, engine := range Engines {
		a, err := New(engine)
		if err != nil {
			t.Fatalf("failed to build %s authorizer: %s", engine, err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				actor := fmt.Sprintf("user-%d", i)
				allowed, err := a.Allow(context.Background(), types.PolicyInput{
					Actor:   actor,
					Target:  "bob",
					Blocked: []string{"user-0"},
				})
				if err != nil {
					errs <- err
					return
				}
				if allowed == (i == 0) {
					errs <- fmt.Errorf("%s: wrong decision for %s", engine, actor)
				}
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatal(err)
		}
	}
}

func TestUnknownEngine(t *testing.T) {
	if _, err := New("xacml"); err == nil {
		t.Fatalf("expected an error for an unknown engine")
	}
}
