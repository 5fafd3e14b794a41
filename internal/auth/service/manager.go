// Package service implements the session and refresh-token lifecycle: login, single-use refresh
// rotation, logout, and mass logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"marketplace/backend/internal/audit"
	auditdomain "marketplace/backend/internal/audit/domain"
	"marketplace/backend/internal/logger"
	"marketplace/backend/internal/security"
	sessiondomain "marketplace/backend/internal/session/domain"
	sessionrepo "marketplace/backend/internal/session/repository"
	tokendomain "marketplace/backend/internal/token/domain"
	tokenrepo "marketplace/backend/internal/token/repository"
)

// Tx exposes the session and token repositories bound to one transaction.
type Tx interface {
	Sessions() sessionrepo.Repository
	Tokens() tokenrepo.Repository
}

// TxRunner runs fn in a single transaction. A non-nil error from fn rolls back every write made through tx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// UserLookup reports whether an account exists and may authenticate.
type UserLookup interface {
	Eligible(ctx context.Context, userID string) (bool, error)
}

// RefreshThrottle counts a refresh attempt for a session. allowed=false carries the wait before retrying.
type RefreshThrottle interface {
	Allow(ctx context.Context, sessionID string) (retryAfter time.Duration, allowed bool, err error)
}

// Issued is the credential pair handed to the client by Login and Refresh.
type Issued struct {
	SessionID        string
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Manager orchestrates the session and token stores. It holds no per-session state; all mutual exclusion
// happens in the store's transactions.
type Manager struct {
	runner     TxRunner
	tokens     *security.TokenProvider
	users      UserLookup
	audit      audit.AuditLogger
	log        *zap.Logger
	metrics    *metrics
	throttle   RefreshThrottle
	flaggedTTL time.Duration
	now        func() time.Time
}

// NewManager returns a Manager. auditLogger and log may be nil.
func NewManager(runner TxRunner, tokens *security.TokenProvider, users UserLookup, auditLogger audit.AuditLogger, log *zap.Logger) *Manager {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Manager{
		runner:     runner,
		tokens:     tokens,
		users:      users,
		audit:      auditLogger,
		log:        logger.OrNop(log),
		metrics:    newMetrics(),
		flaggedTTL: time.Minute,
		now:        time.Now,
	}
}

// WithThrottle enables per-session refresh throttling.
func (m *Manager) WithThrottle(t RefreshThrottle) *Manager {
	m.throttle = t
	return m
}

// WithFlaggedTTL sets the lifetime of credentials minted by ReissueAccess.
func (m *Manager) WithFlaggedTTL(d time.Duration) *Manager {
	if d > 0 {
		m.flaggedTTL = d
	}
	return m
}

// WithClock replaces the time source used for persisted timestamps.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Login opens a new session for userID and issues its first credential pair. The session row and its
// refresh token row are written in one transaction.
func (m *Manager) Login(ctx context.Context, userID string) (*Issued, error) {
	ctx, span := startSpan(ctx, "session.Login", attribute.String("user_id", userID))
	defer span.End()
	if err := m.checkEligible(ctx, userID); err != nil {
		m.metrics.login(ctx, outcomeIneligible)
		return nil, err
	}

	sessionID := uuid.NewString()
	access, _, accessExp, err := m.tokens.IssueAccess(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue access credential: %w", err)
	}
	refresh, jti, refreshExp, err := m.tokens.IssueRefresh(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh credential: %w", err)
	}

	now := m.now().UTC()
	err = m.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Sessions().Create(ctx, &sessiondomain.Session{ID: sessionID, UserID: userID, StartedAt: now}); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if err := tx.Tokens().Create(ctx, newTokenRow(jti, refresh, userID, sessionID, now, refreshExp)); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		m.metrics.login(ctx, outcomeError)
		m.log.Error("login failed", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("login: %w", err)
	}

	m.metrics.login(ctx, outcomeOK)
	m.audit.LogEvent(ctx, userID, sessionID, auditdomain.ActionLogin, nil)
	m.log.Info("session opened", zap.String("user_id", userID), zap.String("session_id", sessionID))
	return &Issued{
		SessionID:        sessionID,
		UserID:           userID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh consumes a refresh credential and returns its replacement plus a new access credential.
// A credential is single-use: of any number of concurrent calls presenting it, at most one succeeds.
func (m *Manager) Refresh(ctx context.Context, presented string) (*Issued, error) {
	ctx, span := startSpan(ctx, "session.Refresh")
	defer span.End()
	claims, err := m.tokens.DecodeRefresh(presented)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			m.metrics.refresh(ctx, outcomeExpired)
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		m.metrics.refresh(ctx, outcomeMalformed)
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	span.SetAttributes(attribute.String("session_id", claims.SessionID))
	log := m.log.With(zap.String("user_id", claims.SubjectID), zap.String("session_id", claims.SessionID))

	if m.throttle != nil {
		retryAfter, allowed, err := m.throttle.Allow(ctx, claims.SessionID)
		switch {
		case err != nil:
			log.Warn("refresh throttle unavailable, allowing", zap.Error(err))
		case !allowed:
			m.metrics.refresh(ctx, outcomeRateLimited)
			return nil, &RefreshRateLimitError{SessionID: claims.SessionID, RetryAfter: retryAfter}
		}
	}

	if err := m.checkEligible(ctx, claims.SubjectID); err != nil {
		if errors.Is(err, ErrUserNotEligible) {
			m.metrics.refresh(ctx, outcomeIneligible)
			return nil, fmt.Errorf("%w: %w", ErrNoToken, err)
		}
		m.metrics.refresh(ctx, outcomeError)
		return nil, err
	}

	presentedHash := security.HashRefreshToken(presented)
	var (
		issued *Issued
		reused *tokendomain.RefreshToken
	)
	err = m.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		reused = nil
		now := m.now().UTC()

		// Session row first: logout and mass logout take the same lock before touching tokens.
		sess, err := tx.Sessions().GetByIDForUpdate(ctx, claims.SessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if !sess.IsOpen() {
			return ErrSessionClosed
		}
		if sess.UserID != claims.SubjectID {
			return ErrNoToken
		}

		tok, err := tx.Tokens().GetByHash(ctx, presentedHash)
		if err != nil {
			return fmt.Errorf("load refresh token: %w", err)
		}
		if tok == nil || tok.SessionID != sess.ID || tok.UserID != sess.UserID {
			return ErrNoToken
		}
		if !tok.IsLive(now) {
			if tok.Invalidated {
				reused = tok
				return ErrInvalidated
			}
			return ErrExpired
		}

		won, err := tx.Tokens().Invalidate(ctx, tok.ID, now)
		if err != nil {
			return fmt.Errorf("invalidate refresh token: %w", err)
		}
		if !won {
			return ErrInvalidated
		}

		access, _, accessExp, err := m.tokens.IssueAccess(sess.UserID, sess.ID)
		if err != nil {
			return fmt.Errorf("issue access credential: %w", err)
		}
		refresh, jti, refreshExp, err := m.tokens.IssueRefresh(sess.UserID, sess.ID)
		if err != nil {
			return fmt.Errorf("issue refresh credential: %w", err)
		}
		if err := tx.Tokens().Create(ctx, newTokenRow(jti, refresh, sess.UserID, sess.ID, now, refreshExp)); err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}

		issued = &Issued{
			SessionID:        sess.ID,
			UserID:           sess.UserID,
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refresh,
			RefreshExpiresAt: refreshExp,
		}
		return nil
	})
	if err != nil {
		m.metrics.refresh(ctx, refreshOutcome(err))
		switch {
		case errors.Is(err, ErrInvalidated):
			if reused != nil {
				log.Warn("refresh credential reuse", zap.String("token_id", reused.ID))
				m.audit.LogEvent(ctx, claims.SubjectID, claims.SessionID, auditdomain.ActionRefreshReuse,
					map[string]string{"token_id": reused.ID})
			}
			return nil, err
		case IsRefreshRejection(err):
			log.Debug("refresh rejected", zap.Error(err))
			return nil, err
		default:
			log.Error("refresh failed", zap.Error(err))
			return nil, fmt.Errorf("refresh: %w", err)
		}
	}

	m.metrics.refresh(ctx, outcomeOK)
	m.audit.LogEvent(ctx, issued.UserID, issued.SessionID, auditdomain.ActionRefresh, nil)
	log.Debug("refresh credential rotated")
	return issued, nil
}

// Logout closes sessionID and invalidates its live refresh token in one transaction. Logging out a closed
// or unknown session is a no-op.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	ctx, span := startSpan(ctx, "session.Logout", attribute.String("session_id", sessionID))
	defer span.End()
	if sessionID == "" {
		return nil
	}
	var (
		userID string
		closed bool
	)
	err := m.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := m.now().UTC()
		sess, err := tx.Sessions().GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess == nil {
			return nil
		}
		userID = sess.UserID
		if closed, err = tx.Sessions().Close(ctx, sessionID, now); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		if _, err := tx.Tokens().InvalidateBySession(ctx, sessionID, now); err != nil {
			return fmt.Errorf("invalidate session tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		m.log.Error("logout failed", zap.String("session_id", sessionID), zap.Error(err))
		return fmt.Errorf("logout: %w", err)
	}
	if closed {
		m.metrics.logout(ctx, "single")
		m.audit.LogEvent(ctx, userID, sessionID, auditdomain.ActionLogout, nil)
		m.log.Info("session closed", zap.String("user_id", userID), zap.String("session_id", sessionID))
	}
	return nil
}

// LogoutAllSessions closes every open session of userID and invalidates all of the user's live refresh
// tokens in one transaction. A rotation racing with it either completes first and is then invalidated,
// or observes the closed session and fails.
func (m *Manager) LogoutAllSessions(ctx context.Context, userID string) error {
	ctx, span := startSpan(ctx, "session.LogoutAllSessions", attribute.String("user_id", userID))
	defer span.End()
	if userID == "" {
		return errors.New("logout all: user id is required")
	}
	var (
		closedIDs   []string
		invalidated int64
	)
	err := m.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := m.now().UTC()
		var err error
		if closedIDs, err = tx.Sessions().CloseAllByUser(ctx, userID, now); err != nil {
			return fmt.Errorf("close sessions: %w", err)
		}
		if invalidated, err = tx.Tokens().InvalidateAllByUser(ctx, userID, now); err != nil {
			return fmt.Errorf("invalidate tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		m.log.Error("logout all failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("logout all: %w", err)
	}
	m.metrics.logout(ctx, "all")
	m.audit.LogEvent(ctx, userID, "", auditdomain.ActionLogoutAll, map[string]string{
		"sessions": fmt.Sprint(len(closedIDs)),
		"tokens":   fmt.Sprint(invalidated),
	})
	m.log.Info("all sessions closed",
		zap.String("user_id", userID),
		zap.Int("sessions", len(closedIDs)),
		zap.Int64("tokens", invalidated))
	return nil
}

// ReissueAccess mints a short-lived access credential carrying the needs-refresh marker for an open
// session of userID. Clients presenting it are told to refresh, which re-reads account state.
func (m *Manager) ReissueAccess(ctx context.Context, userID, sessionID string) (string, time.Time, error) {
	err := m.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sess, err := tx.Sessions().GetByID(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if !sess.IsOpen() || sess.UserID != userID {
			return ErrSessionClosed
		}
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	token, _, exp, err := m.tokens.IssueFlaggedAccess(userID, sessionID, m.flaggedTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue flagged access credential: %w", err)
	}
	return token, exp, nil
}

// ListSessions returns every session of userID, newest first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	var out []*sessiondomain.Session
	err := m.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Sessions().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (m *Manager) checkEligible(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserNotEligible
	}
	ok, err := m.users.Eligible(ctx, userID)
	if err != nil {
		return fmt.Errorf("check eligibility: %w", err)
	}
	if !ok {
		return ErrUserNotEligible
	}
	return nil
}

func newTokenRow(jti, credential, userID, sessionID string, issuedAt, expiresAt time.Time) *tokendomain.RefreshToken {
	return &tokendomain.RefreshToken{
		ID:        jti,
		TokenHash: security.HashRefreshToken(credential),
		Type:      tokendomain.TypeRefresh,
		UserID:    userID,
		SessionID: sessionID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSessionClosed):
		return outcomeSessionClosed
	case errors.Is(err, ErrInvalidated):
		return outcomeInvalidated
	case errors.Is(err, ErrNoToken):
		return outcomeNoToken
	case errors.Is(err, ErrExpired):
		return outcomeExpired
	default:
		return outcomeError
	}
}
