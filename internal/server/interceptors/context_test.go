package interceptors

import (
	"context"
	"testing"
)

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-42", "session-1")

	userID, ok := GetUserID(ctx)
	if !ok || userID != "user-42" {
		t.Errorf("GetUserID = %q, %v; want %q, true", userID, ok, "user-42")
	}
	sessionID, ok := GetSessionID(ctx)
	if !ok || sessionID != "session-1" {
		t.Errorf("GetSessionID = %q, %v; want %q, true", sessionID, ok, "session-1")
	}
}

func TestIdentity_NotSet(t *testing.T) {
	ctx := context.Background()
	if v, ok := GetUserID(ctx); ok || v != "" {
		t.Errorf("GetUserID = %q, %v; want empty, false", v, ok)
	}
	if v, ok := GetSessionID(ctx); ok || v != "" {
		t.Errorf("GetSessionID = %q, %v; want empty, false", v, ok)
	}
}

func TestIdentity_WrongValueType(t *testing.T) {
	ctx := context.WithValue(context.Background(), userIDKey, 42)
	if _, ok := GetUserID(ctx); ok {
		t.Error("GetUserID should return false for a non-string value")
	}
}
