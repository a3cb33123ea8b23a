package rego

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Jeffail/gabs/v2"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/charlieegan3/social-relay/internal/types"
)

const module = `
package social

default allow = false

allow {
	not blocked
}

blocked {
	input.blocked[_] == input.actor
}
`

// Authorizer holds the allow rule, partially evaluated at construction and
// then completed with each input
type Authorizer struct {
	allowRule rego.PartialResult
}

func NewAuthorizer() (*Authorizer, error) {
	compiler, err := ast.CompileModules(map[string]string{
		"allow.rego": module,
	})
	if err != nil {
		return nil, fmt.Errorf("rule failed to compile: %w", err)
	}

	allowRule, err := rego.
		New(rego.Compiler(compiler), rego.Query("data.social.allow")).
		PartialResult(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to compute partial result: %w", err)
	}

	return &Authorizer{allowRule: allowRule}, nil
}

func (a *Authorizer) Allow(ctx context.Context, input types.PolicyInput) (bool, error) {
	// a nil list would be passed to rego as null
	if input.Blocked == nil {
		input.Blocked = []string{}
	}

	resultSet, err := a.allowRule.Rego(rego.Input(input)).Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(resultSet) == 0 {
		return false, nil
	}

	// convert to data to make extracting the result easier
	bytes, err := json.Marshal(resultSet)
	if err != nil {
		return false, err
	}

	result, err := gabs.ParseJSON(bytes)
	if err != nil {
		return false, err
	}

	allowed, ok := result.Path("0.expressions.0.value").Data().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected policy result: %s", result.String())
	}

	return allowed, nil
}
