package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Metadata keys that carry credentials between client and server.
const (
	HeaderAuthorization    = "authorization"
	HeaderAccessToken      = "x-access-token"
	HeaderRefreshToken     = "x-refresh-token"
	HeaderClearCredentials = "x-clear-credentials"
	HeaderAuthHint         = "x-auth-hint"
)

// Values of HeaderAuthHint.
const (
	HintRefresh = "refresh"
	HintLogin   = "login"
)

const bearerPrefix = "bearer "

// AccessCredential returns the access credential from the authorization Bearer header, falling back to
// x-access-token. Returns "" when neither is present.
func AccessCredential(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := firstValue(md, HeaderAuthorization); len(v) >= len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		if token := strings.TrimSpace(v[len(bearerPrefix):]); token != "" {
			return token
		}
	}
	return firstValue(md, HeaderAccessToken)
}

// RefreshCredential returns the refresh credential from x-refresh-token, or "".
func RefreshCredential(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return firstValue(md, HeaderRefreshToken)
}

// SetCredentials sends a new credential pair to the client in response headers. An empty refresh leaves
// the client's refresh credential untouched.
func SetCredentials(ctx context.Context, access, refresh string) error {
	md := metadata.Pairs(HeaderAccessToken, access)
	if refresh != "" {
		md.Append(HeaderRefreshToken, refresh)
	}
	return grpc.SetHeader(ctx, md)
}

// ClearCredentials tells the client to discard both credentials.
func ClearCredentials(ctx context.Context) error {
	return grpc.SetHeader(ctx, metadata.Pairs(HeaderClearCredentials, "true"))
}

// SetAuthHint tells the client what to do next (HintRefresh or HintLogin).
func SetAuthHint(ctx context.Context, hint string) error {
	return grpc.SetHeader(ctx, metadata.Pairs(HeaderAuthHint, hint))
}
