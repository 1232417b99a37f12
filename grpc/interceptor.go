package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	wid "github.com/purelife/wellnessid"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Codec decodes session tokens. Required.
	Codec *wid.TokenCodec

	// MetadataKeyToken is the metadata key carrying the token. Defaults to
	// "authorization" with an optional Bearer prefix.
	MetadataKeyToken string

	// RequireAuth when true rejects requests without a durable principal.
	// When false, requests proceed and PrincipalFromContext may return nil.
	RequireAuth bool

	// PublicMethods don't require auth when RequireAuth is true. Keys are
	// full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewInterceptorConfig returns a config that requires auth for all methods
// except the listed public ones.
func NewInterceptorConfig(codec *wid.TokenCodec, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Codec:         codec,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func (c *InterceptorConfig) EnsureDefaults() *InterceptorConfig {
	if c.Codec == nil {
		c.Codec = (&wid.TokenCodec{}).EnsureDefaults()
	}
	if c.MetadataKeyToken == "" {
		c.MetadataKeyToken = DefaultMetadataKeyToken
	}
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	return c
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that decodes the
// session token into the request context. A provisional principal counts as
// unauthenticated for protected methods: mid-enrollment callers hold a token
// but not an account.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = NewInterceptorConfig(nil)
	}
	config.EnsureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is UnaryAuthInterceptor for streaming methods.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = NewInterceptorConfig(nil)
	}
	config.EnsureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

func (c *InterceptorConfig) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	var principal *wid.Principal
	if token := tokenFromMetadata(ctx, c.MetadataKeyToken); token != "" {
		decoded, err := c.Codec.Decode(token)
		if err == nil {
			principal = decoded
			ctx = ContextWithPrincipal(ctx, decoded)
		}
	}

	if c.RequireAuth && !c.PublicMethods[fullMethod] {
		if principal == nil || principal.IsProvisional() {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
	}
	return ctx, nil
}

// wrappedStream overrides the stream context with the authenticated one.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
