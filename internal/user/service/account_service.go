// Package service implements the account collaborator of the session subsystem: password verification,
// eligibility, and the account changes that must revoke or refresh existing sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace/backend/internal/logger"
	"marketplace/backend/internal/policy/engine"
	"marketplace/backend/internal/security"
	"marketplace/backend/internal/user/domain"
	"marketplace/backend/internal/user/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrEmailTaken         = repository.ErrEmailTaken
	// ErrSessionsNotRevoked means the account change was saved but its sessions are still open. Access
	// credentials of those sessions stay admitted until they expire, so the caller must retry.
	ErrSessionsNotRevoked = errors.New("account changed but sessions not revoked")
)

const minPasswordLen = 12

// SessionRevoker is the part of the session manager that account changes drive.
type SessionRevoker interface {
	LogoutAllSessions(ctx context.Context, userID string) error
	ReissueAccess(ctx context.Context, userID, sessionID string) (string, time.Time, error)
}

// AccountService owns user records. It also answers the session manager's eligibility question, so the
// two are wired in both directions: build the AccountService, then the manager, then call WithSessions.
type AccountService struct {
	users     repository.Repository
	hasher    *security.Hasher
	evaluator engine.Evaluator
	sessions  SessionRevoker
	log       *zap.Logger
	now       func() time.Time
}

// NewAccountService returns an AccountService. log may be nil.
func NewAccountService(users repository.Repository, hasher *security.Hasher, evaluator engine.Evaluator, log *zap.Logger) *AccountService {
	return &AccountService{
		users:     users,
		hasher:    hasher,
		evaluator: evaluator,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

// WithSessions attaches the session manager that revocations and reissues go through.
func (s *AccountService) WithSessions(sessions SessionRevoker) *AccountService {
	s.sessions = sessions
	return s
}

// Register creates an active account and returns it.
func (s *AccountService) Register(ctx context.Context, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("account registered", zap.String("user_id", u.ID))
	return u, nil
}

// VerifyPassword returns the user id for email when password matches and the account is active.
// Every failure is ErrInvalidCredentials so callers cannot tell unknown accounts from wrong passwords.
func (s *AccountService) VerifyPassword(ctx context.Context, email, password string) (string, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if u == nil || u.Status != domain.UserStatusActive {
		s.hasher.BurnCompare([]byte(password))
		return "", ErrInvalidCredentials
	}
	if err := s.hasher.Verify(u.PasswordHash, []byte(password)); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			s.log.Warn("stored password hash unusable", zap.String("user_id", u.ID), zap.Error(err))
		}
		return "", ErrInvalidCredentials
	}
	return u.ID, nil
}

// Eligible reports whether userID exists and the eligibility policy admits it.
func (s *AccountService) Eligible(ctx context.Context, userID string) (bool, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return s.evaluator.EvaluateEligibility(ctx, u)
}

// Get returns the user for userID or ErrUserNotFound.
func (s *AccountService) Get(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one, then ends every session of the user.
// On ErrSessionsNotRevoked the new password is stored, so a retry must present it as current.
func (s *AccountService) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Verify(u.PasswordHash, []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash([]byte(next))
	if err != nil {
		return err
	}
	u.PasswordHash = hashed
	if err := s.save(ctx, u); err != nil {
		return err
	}
	return s.revokeAll(ctx, userID, "password_changed")
}

// Suspend marks the account suspended and ends every session of the user. On ErrSessionsNotRevoked the
// suspension is already stored; calling Suspend again retries only the revocation.
func (s *AccountService) Suspend(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, domain.UserStatusSuspended)
}

// Delete soft-deletes the account and ends every session of the user. Retries behave as for Suspend.
func (s *AccountService) Delete(ctx context.Context, userID string) error {
	return s.setStatus(ctx, userID, domain.UserStatusDeleted)
}

// UpdateEmail changes the account email and returns an access credential flagged for refresh on the
// caller's session, so the client picks up the change on its next request.
func (s *AccountService) UpdateEmail(ctx context.Context, userID, sessionID, email string) (string, time.Time, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	u.Email = domain.NormalizeEmail(email)
	if err := s.save(ctx, u); err != nil {
		return "", time.Time{}, err
	}
	if s.sessions == nil {
		return "", time.Time{}, errors.New("account: session manager not attached")
	}
	return s.sessions.ReissueAccess(ctx, userID, sessionID)
}

func (s *AccountService) setStatus(ctx context.Context, userID string, status domain.UserStatus) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.Status != status {
		u.Status = status
		if err := s.save(ctx, u); err != nil {
			return err
		}
	}
	return s.revokeAll(ctx, userID, "status_"+string(status))
}

func (s *AccountService) save(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return ErrEmailTaken
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *AccountService) revokeAll(ctx context.Context, userID, reason string) error {
	if s.sessions == nil {
		return errors.New("account: session manager not attached")
	}
	if err := s.sessions.LogoutAllSessions(ctx, userID); err != nil {
		s.log.Error("account sessions not revoked", zap.String("user_id", userID), zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSessionsNotRevoked, err)
	}
	s.log.Info("account sessions revoked", zap.String("user_id", userID), zap.String("reason", reason))
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, minPasswordLen)
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: must not be blank", ErrWeakPassword)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: must contain a letter and a digit", ErrWeakPassword)
	}
	return nil
}
