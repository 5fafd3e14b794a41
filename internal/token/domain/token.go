package domain

import "time"

// TypeRefresh is the only persisted credential type.
const TypeRefresh = "refresh"

// RefreshToken is the persisted record of one issued refresh credential. Only its hash is stored.
// Rows are mutated to invalidate them and are never deleted.
type RefreshToken struct {
	ID          string // jti of the credential
	TokenHash   string
	Type        string
	UserID      string
	SessionID   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Invalidated bool
	LastUsedAt  *time.Time
}

// IsLive reports whether the token is not invalidated and not past its stored expiry at now.
func (t *RefreshToken) IsLive(now time.Time) bool {
	return t != nil && !t.Invalidated && now.Before(t.ExpiresAt)
}
