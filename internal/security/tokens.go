package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when a credential fails signature, algorithm, or structural checks.
	// Callers must not hint a refresh for it.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken is returned when a correctly signed credential is at or past its exp.
	ErrExpiredToken = errors.New("token expired")
)

// TokenType distinguishes access from refresh credentials; a credential of one type never decodes as the other.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the fixed claim set carried by both credential types.
type Claims struct {
	TokenID      string
	SubjectID    string
	SessionID    string
	Type         TokenType
	IssuedAt     time.Time
	ExpiresAt    time.Time
	NeedsRefresh bool
}

// wireClaims is the JWT payload shape.
type wireClaims struct {
	jwt.RegisteredClaims
	SessionID    string    `json:"sid"`
	Type         TokenType `json:"typ"`
	NeedsRefresh bool      `json:"nrf,omitempty"`
}

// TokenProvider issues and decodes HS256 access and refresh credentials keyed by one process-wide secret.
type TokenProvider struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clockSkew  time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider. It fails when the secret is empty so the process can never
// run with unsigned credentials.
func NewTokenProvider(secret []byte, issuer, audience string, accessTTL, refreshTTL, clockSkew time.Duration) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("security: signing secret is empty")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("security: credential lifetimes must be positive")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenProvider{
		secret:     key,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clockSkew:  clockSkew,
		now:        time.Now,
	}, nil
}

// AccessTTL returns the configured access credential lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh credential lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access credential for the given user and session.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(userID, sessionID string) (token, jti string, expiresAt time.Time, err error) {
	return p.issue(userID, sessionID, TokenTypeAccess, p.accessTTL, false)
}

// IssueFlaggedAccess issues an access credential carrying the needs-refresh marker with a lifetime of
// min(ttl, access lifetime).
func (p *TokenProvider) IssueFlaggedAccess(userID, sessionID string, ttl time.Duration) (token, jti string, expiresAt time.Time, err error) {
	if ttl <= 0 || ttl > p.accessTTL {
		ttl = p.accessTTL
	}
	return p.issue(userID, sessionID, TokenTypeAccess, ttl, true)
}

// IssueRefresh issues a long-lived refresh credential. The jti identifies the persisted token row.
func (p *TokenProvider) IssueRefresh(userID, sessionID string) (token, jti string, expiresAt time.Time, err error) {
	return p.issue(userID, sessionID, TokenTypeRefresh, p.refreshTTL, false)
}

func (p *TokenProvider) issue(userID, sessionID string, typ TokenType, ttl time.Duration, needsRefresh bool) (string, string, time.Time, error) {
	if userID == "" || sessionID == "" {
		return "", "", time.Time{}, errors.New("security: user and session ids are required")
	}
	jti, err := generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	// exp is encoded with second precision; align so the returned expiry is exactly what is signed.
	now := p.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID:    sessionID,
		Type:         typ,
		NeedsRefresh: needsRefresh,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(p.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, jti, expiresAt, nil
}

// DecodeAccess verifies an access credential. Returns ErrExpiredToken or ErrMalformedToken on failure.
func (p *TokenProvider) DecodeAccess(tokenString string) (*Claims, error) {
	return p.decode(tokenString, TokenTypeAccess)
}

// DecodeRefresh verifies a refresh credential. Returns ErrExpiredToken or ErrMalformedToken on failure.
func (p *TokenProvider) DecodeRefresh(tokenString string) (*Claims, error) {
	return p.decode(tokenString, TokenTypeRefresh)
}

// decode verifies the signature through the jwt parser and then applies claim checks against p.now so
// that expiry is the only failure reported as ErrExpiredToken.
func (p *TokenProvider) decode(tokenString string, want TokenType) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMalformedToken
	}
	var wc wireClaims
	token, err := jwt.ParseWithClaims(tokenString, &wc, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || token == nil || !token.Valid {
		return nil, ErrMalformedToken
	}
	if wc.Type != want || wc.Issuer != p.issuer || !slices.Contains(wc.Audience, p.audience) {
		return nil, ErrMalformedToken
	}
	if wc.Subject == "" || wc.SessionID == "" || wc.ID == "" || wc.ExpiresAt == nil || wc.IssuedAt == nil {
		return nil, ErrMalformedToken
	}
	now := p.now()
	if wc.IssuedAt.Time.After(now.Add(p.clockSkew)) {
		return nil, ErrMalformedToken
	}
	if !now.Before(wc.ExpiresAt.Time) {
		return nil, ErrExpiredToken
	}
	return &Claims{
		TokenID:      wc.ID,
		SubjectID:    wc.Subject,
		SessionID:    wc.SessionID,
		Type:         wc.Type,
		IssuedAt:     wc.IssuedAt.Time,
		ExpiresAt:    wc.ExpiresAt.Time,
		NeedsRefresh: wc.NeedsRefresh,
	}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
