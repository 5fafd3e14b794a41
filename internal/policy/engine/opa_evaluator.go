package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	userdomain "marketplace/backend/internal/user/domain"
)

const eligibilityQuery = "data.marketplace.session_eligibility.allow"

// DefaultEligibilityPolicy admits existing accounts whose status is active.
const DefaultEligibilityPolicy = `package marketplace.session_eligibility

default allow := false

allow if {
	input.user.exists
	input.user.status == "active"
}
`

// OPAEvaluator evaluates session eligibility with a precompiled Rego query.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policies (DefaultEligibilityPolicy when none are given). Every module must
// define data.marketplace.session_eligibility.allow.
func NewOPAEvaluator(ctx context.Context, policies ...string) (*OPAEvaluator, error) {
	if len(policies) == 0 {
		policies = []string{DefaultEligibilityPolicy}
	}
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile eligibility policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(eligibilityQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare eligibility query: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// HealthCheck evaluates the policy against a synthetic active user. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	ok, err := e.EvaluateEligibility(ctx, &userdomain.User{ID: "healthcheck", Status: userdomain.UserStatusActive})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("eligibility policy rejects an active user")
	}
	return nil
}

// EvaluateEligibility fails closed: any evaluation error or non-boolean result reports false.
func (e *OPAEvaluator) EvaluateEligibility(ctx context.Context, user *userdomain.User) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(user)))
	if err != nil {
		return false, fmt.Errorf("eval eligibility policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, errors.New("eligibility policy returned no result")
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("eligibility policy returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return allow, nil
}

func buildInput(user *userdomain.User) map[string]interface{} {
	u := map[string]interface{}{
		"exists": false,
		"id":     "",
		"status": "",
	}
	if user != nil {
		u["exists"] = true
		u["id"] = user.ID
		u["status"] = string(user.Status)
	}
	return map[string]interface{}{"user": u}
}
