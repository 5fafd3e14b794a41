package security

import "time"

const (
	testSecret   = "test-signing-secret-0123456789abcdef"
	testIssuer   = "test-issuer"
	testAudience = "test-audience"
)

// NewTestTokenProvider returns a TokenProvider keyed with a fixed test secret, 15m access and 24h
// refresh lifetimes, and no clock skew. For unit tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	return NewTokenProvider([]byte(testSecret), testIssuer, testAudience, 15*time.Minute, 24*time.Hour, 0)
}

// WithClock replaces the provider's time source. Tests use it to place issuance and checks at exact instants.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}
