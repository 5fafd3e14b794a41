package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// User is a marketplace account as seen by the session subsystem.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrInvalidUser wraps every Validate failure.
var ErrInvalidUser = errors.New("invalid user")

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusDeleted   UserStatus = "deleted"
)

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	if u.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("%w: email is invalid", ErrInvalidUser)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidUser)
	}
	switch u.Status {
	case "":
		u.Status = UserStatusActive
	case UserStatusActive, UserStatusSuspended, UserStatusDeleted:
	default:
		return fmt.Errorf("%w: status is invalid", ErrInvalidUser)
	}
	return nil
}
