package engine

import (
	"context"
	"testing"

	userdomain "marketplace/backend/internal/user/domain"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicy(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	testCases := []struct {
		name string
		user *userdomain.User
		want bool
	}{
		{"unknown user", nil, false},
		{"active", &userdomain.User{ID: "42", Status: userdomain.UserStatusActive}, true},
		{"suspended", &userdomain.User{ID: "42", Status: userdomain.UserStatusSuspended}, false},
		{"deleted", &userdomain.User{ID: "42", Status: userdomain.UserStatusDeleted}, false},
		{"empty status", &userdomain.User{ID: "42"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.EvaluateEligibility(ctx, tc.user)
			if err != nil {
				t.Fatalf("EvaluateEligibility: %v", err)
			}
			if got != tc.want {
				t.Errorf("EvaluateEligibility = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	custom := `package marketplace.session_eligibility

default allow := false

allow if {
	input.user.exists
	input.user.status != "deleted"
}
`
	e, err := NewOPAEvaluator(ctx, custom)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, err := e.EvaluateEligibility(ctx, &userdomain.User{ID: "42", Status: userdomain.UserStatusSuspended})
	if err != nil {
		t.Fatalf("EvaluateEligibility: %v", err)
	}
	if !got {
		t.Error("custom policy should admit suspended users")
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package broken\nallow if {"); err == nil {
		t.Fatal("NewOPAEvaluator with invalid Rego: want error")
	}
}

func TestOPAEvaluator_NonBooleanResult(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "package marketplace.session_eligibility\n\nallow := \"yes\"\n")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	ok, err := e.EvaluateEligibility(ctx, &userdomain.User{ID: "42", Status: userdomain.UserStatusActive})
	if err == nil || ok {
		t.Errorf("EvaluateEligibility = %v, %v; want false with error", ok, err)
	}
}
