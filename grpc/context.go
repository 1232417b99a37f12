// Package grpc adapts the session token to gRPC: an interceptor decodes the
// bearer token from request metadata into a principal, and context helpers
// carry it to service handlers.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	wid "github.com/purelife/wellnessid"
)

// DefaultMetadataKeyToken is the metadata key the interceptor reads the
// session token from.
const DefaultMetadataKeyToken = "authorization"

const bearerPrefix = "bearer "

type principalKey struct{}

// PrincipalFromContext returns the principal placed by the interceptor, or
// nil when the request carried no valid token.
func PrincipalFromContext(ctx context.Context) *wid.Principal {
	p, _ := ctx.Value(principalKey{}).(*wid.Principal)
	return p
}

// ContextWithPrincipal is exposed for tests and in-process callers.
func ContextWithPrincipal(ctx context.Context, p *wid.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// AccountIDFromContext returns the durable account id, or "" when the caller
// is anonymous or still mid-enrollment.
func AccountIDFromContext(ctx context.Context) string {
	p := PrincipalFromContext(ctx)
	if p == nil || p.IsProvisional() {
		return ""
	}
	return p.Ref.Durable
}

// IsAuthenticated reports whether the context carries a durable principal.
func IsAuthenticated(ctx context.Context) bool {
	return AccountIDFromContext(ctx) != ""
}

// TokenToOutgoingContext attaches a session token to an outgoing call.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyToken, "Bearer "+token)
}

// tokenFromMetadata extracts the raw session token from incoming metadata.
func tokenFromMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	value := values[0]
	if strings.HasPrefix(strings.ToLower(value), bearerPrefix) {
		return strings.TrimSpace(value[len(bearerPrefix):])
	}
	return strings.TrimSpace(value)
}
