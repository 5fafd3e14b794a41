package domain

import (
	"errors"
	"testing"
)

func TestUser_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		u       User
		wantErr bool
	}{
		{"valid", User{ID: "42", Email: "a@example.com", PasswordHash: "h"}, false},
		{"missing id", User{Email: "a@example.com", PasswordHash: "h"}, true},
		{"missing email", User{ID: "42", PasswordHash: "h"}, true},
		{"bad email", User{ID: "42", Email: "not-an-email", PasswordHash: "h"}, true},
		{"missing hash", User{ID: "42", Email: "a@example.com"}, true},
		{"bad status", User{ID: "42", Email: "a@example.com", PasswordHash: "h", Status: "banned"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.u.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidUser) {
				t.Errorf("Validate() = %v, want it to wrap ErrInvalidUser", err)
			}
		})
	}
}

func TestUser_ValidateDefaultsStatus(t *testing.T) {
	u := User{ID: "42", Email: "a@example.com", PasswordHash: "h"}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if u.Status != UserStatusActive {
		t.Errorf("Status = %q, want active", u.Status)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
