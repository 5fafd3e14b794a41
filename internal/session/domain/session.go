package domain

import "time"

// Session is one login's server-tracked lifetime. It is open while EndedAt is nil and is never deleted.
type Session struct {
	ID        string
	UserID    string
	StartedAt time.Time
	EndedAt   *time.Time // nil while open
}

// IsOpen reports whether the session has not been closed.
func (s *Session) IsOpen() bool {
	return s != nil && s.EndedAt == nil
}
