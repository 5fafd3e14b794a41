package migrate

import (
	"os"
	"strings"
	"testing"
)

func TestParseDirection(t *testing.T) {
	testCases := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"up", Up, false},
		{"down", Down, false},
		{"", "", true},
		{"UP", "", true},
		{"sideways", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDirection(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ParseDirection(%q): want error", tc.in)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("ParseDirection(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
			}
		})
	}
}

func TestRun_EmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		_, err := Run(dsn, Up)
		if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
			t.Errorf("Run(%q): want DATABASE_URL error, got %v", dsn, err)
		}
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	if _, err := Run("postgres://localhost/test", Direction("left")); err == nil {
		t.Error("Run with invalid direction: want error")
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test"} {
		if _, err := Run(dsn, Up); err == nil {
			t.Errorf("Run(%q): want error", dsn)
		}
	}
}

func TestMigrationFS_ContainsPairs(t *testing.T) {
	up, err := os.ReadFile("../migrations/000001_session_lifecycle.up.sql")
	if err != nil {
		t.Fatalf("read up migration: %v", err)
	}
	for _, table := range []string{"users", "sessions", "refresh_tokens", "audit_logs"} {
		if !strings.Contains(string(up), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("up migration does not create %s", table)
		}
	}
	if _, err := os.Stat("../migrations/000001_session_lifecycle.down.sql"); err != nil {
		t.Errorf("down migration missing: %v", err)
	}
}

func TestRun_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	version, err := Run(dsn, Up)
	if err != nil {
		t.Fatalf("Run up: %v", err)
	}
	if version < 1 {
		t.Errorf("version = %d, want >= 1", version)
	}
}
