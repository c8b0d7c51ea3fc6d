package middleware

import (
	"context"
	"strings"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

// Identity represents an authenticated identity.
type Identity struct {
	// ID is a unique identifier for the identity (e.g., user ID, API key ID).
	ID string
	// Name is a human-readable name for the identity.
	Name string
	// Metadata contains additional identity information.
	Metadata map[string]any
}

type identityContextKey struct{}

// IdentityFromContext returns the authenticated identity from the context.
// Returns nil if no identity is present.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey{}).(*Identity); ok {
		return id
	}
	return nil
}

// ContextWithIdentity returns a new context with the identity attached.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// AuthOption configures the authentication middleware.
type AuthOption func(*authConfig)

type authConfig struct {
	logger       Logger
	skipMethods  map[string]bool
	errorMessage string
}

// WithAuthLogger sets the logger for auth events.
func WithAuthLogger(l Logger) AuthOption {
	return func(c *authConfig) {
		c.logger = l
	}
}

// WithAuthSkipMethods specifies methods that don't require authentication.
// By default, "initialize" and "ping" are always skipped.
func WithAuthSkipMethods(methods ...string) AuthOption {
	return func(c *authConfig) {
		for _, m := range methods {
			c.skipMethods[m] = true
		}
	}
}

// WithAuthErrorMessage sets a custom error message for auth failures.
func WithAuthErrorMessage(msg string) AuthOption {
	return func(c *authConfig) {
		c.errorMessage = msg
	}
}

// Authenticator validates credentials and returns an identity, or nil when
// no valid credentials are present.
type Authenticator func(ctx context.Context, req *protocol.Request) (*Identity, error)

// Auth returns middleware that authenticates requests. A request without a
// valid identity is rejected with the unauthorized code (-32000); clients can
// branch on it separately from execution failures.
func Auth(authenticator Authenticator, opts ...AuthOption) Middleware {
	cfg := &authConfig{
		skipMethods: map[string]bool{
			protocol.MethodInitialize: true,
			protocol.MethodPing:       true,
		},
		errorMessage: "authentication required",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
			if cfg.skipMethods[req.Method] {
				return next(ctx, t, req, emit)
			}

			identity, err := authenticator(ctx, req)
			if err != nil || identity == nil {
				if cfg.logger != nil {
					fields := []Field{F("method", req.Method)}
					if err != nil {
						fields = append(fields, F("error", err.Error()))
					}
					cfg.logger.Warn("authentication failed", fields...)
				}
				return errorResult(req, protocol.NewUnauthorized(cfg.errorMessage))
			}

			ctx = ContextWithIdentity(ctx, identity)
			return next(ctx, t, req, emit)
		}
	}
}

// Authorizer decides whether an authenticated identity may perform a
// request. Returning an error denies the call.
type Authorizer func(ctx context.Context, identity *Identity, req *protocol.Request) error

// Authorize returns middleware that applies a permission policy after
// authentication. Denials use the forbidden code (-32002), distinct from the
// unauthorized code so clients can tell missing credentials from missing
// permission.
func Authorize(authorizer Authorizer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
			identity := IdentityFromContext(ctx)
			if err := authorizer(ctx, identity, req); err != nil {
				return errorResult(req, protocol.NewForbidden(err.Error()))
			}
			return next(ctx, t, req, emit)
		}
	}
}

// APIKeyAuthenticator creates an authenticator that validates API keys
// carried in request metadata under headerName.
func APIKeyAuthenticator(headerName string, keyValidator func(key string) *Identity) Authenticator {
	return func(ctx context.Context, _ *protocol.Request) (*Identity, error) {
		key := protocol.GetRequestMeta(ctx, headerName)
		if key == "" {
			key = protocol.GetRequestMeta(ctx, strings.ToLower(headerName))
		}
		if key == "" {
			return nil, nil
		}
		return keyValidator(key), nil
	}
}

// BearerTokenAuthenticator creates an authenticator that validates bearer
// tokens from the Authorization metadata entry.
func BearerTokenAuthenticator(tokenValidator func(token string) *Identity) Authenticator {
	return func(ctx context.Context, _ *protocol.Request) (*Identity, error) {
		auth := protocol.GetRequestMeta(ctx, "Authorization")
		if auth == "" {
			auth = protocol.GetRequestMeta(ctx, "authorization")
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			return nil, nil
		}
		token := strings.TrimPrefix(auth, prefix)
		if token == "" {
			return nil, nil
		}
		return tokenValidator(token), nil
	}
}

// StaticAPIKeys creates a simple key validator from a map of key -> identity.
func StaticAPIKeys(keys map[string]*Identity) func(string) *Identity {
	return func(key string) *Identity {
		return keys[key]
	}
}

// ChainAuthenticators chains multiple authenticators, returning the first
// successful identity.
func ChainAuthenticators(authenticators ...Authenticator) Authenticator {
	return func(ctx context.Context, req *protocol.Request) (*Identity, error) {
		for _, auth := range authenticators {
			identity, err := auth(ctx, req)
			if err != nil {
				return nil, err
			}
			if identity != nil {
				return identity, nil
			}
		}
		return nil, nil
	}
}
