package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashRefreshToken returns the hex SHA-256 digest under which a refresh credential is persisted.
// Raw refresh credentials are never stored.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RefreshTokenHashEqual reports whether token hashes to storedHash, in constant time.
// An empty token or hash never matches.
func RefreshTokenHashEqual(token, storedHash string) bool {
	if token == "" || storedHash == "" {
		return false
	}
	got := HashRefreshToken(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}
