package domain

import "time"

// Session lifecycle actions recorded in the audit trail.
const (
	ActionLogin        = "login"
	ActionRefresh      = "refresh"
	ActionRefreshReuse = "refresh_reuse"
	ActionLogout       = "logout"
	ActionLogoutAll    = "logout_all"
)

// AuditLog is one recorded lifecycle event.
type AuditLog struct {
	ID        string
	UserID    string
	SessionID string
	Action    string
	IP        string
	Metadata  map[string]string
	CreatedAt time.Time
}
