// Package authenticator decides, per request, whether an access credential admits the caller.
package authenticator

import (
	"context"
	"errors"
	"fmt"

	"marketplace/backend/internal/security"
	sessiondomain "marketplace/backend/internal/session/domain"
)

// Decision is the per-request gate result.
type Decision int

const (
	// Admit lets the request through with SubjectID and SessionID set.
	Admit Decision = iota + 1
	// NeedsRefresh: the session is live but the client must call Refresh first.
	NeedsRefresh
	// NeedsLogin: no credential was presented; the client may try Refresh with a refresh credential if it has one.
	NeedsLogin
	// Reject: the credential is untrusted or its session is gone. No refresh hint.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case NeedsRefresh:
		return "needs_refresh"
	case NeedsLogin:
		return "needs_login"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome is what the transport acts on. DiscardCredentials asks it to clear both client credentials.
type Outcome struct {
	Decision           Decision
	SubjectID          string
	SessionID          string
	DiscardCredentials bool
}

// SessionReader is the single persisted read the authenticator performs.
type SessionReader interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
}

// AccessDecoder verifies access credentials.
type AccessDecoder interface {
	DecodeAccess(token string) (*security.Claims, error)
}

// Authenticator holds no per-request state.
type Authenticator struct {
	decoder  AccessDecoder
	sessions SessionReader
}

// New returns an Authenticator.
func New(decoder AccessDecoder, sessions SessionReader) *Authenticator {
	return &Authenticator{decoder: decoder, sessions: sessions}
}

// Authenticate maps a credential (empty when absent) to an Outcome. The returned error is non-nil only when
// the session lookup fails; the Outcome is then Reject without discarding credentials.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (Outcome, error) {
	if credential == "" {
		return Outcome{Decision: NeedsLogin}, nil
	}
	claims, err := a.decoder.DecodeAccess(credential)
	switch {
	case errors.Is(err, security.ErrExpiredToken):
		return Outcome{Decision: NeedsRefresh}, nil
	case err != nil:
		return Outcome{Decision: Reject}, nil
	}

	sess, err := a.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return Outcome{Decision: Reject}, fmt.Errorf("load session: %w", err)
	}
	if !sess.IsOpen() || sess.UserID != claims.SubjectID {
		return Outcome{Decision: Reject, DiscardCredentials: true}, nil
	}
	if claims.NeedsRefresh {
		return Outcome{Decision: NeedsRefresh, SubjectID: claims.SubjectID, SessionID: claims.SessionID}, nil
	}
	return Outcome{Decision: Admit, SubjectID: claims.SubjectID, SessionID: claims.SessionID}, nil
}
