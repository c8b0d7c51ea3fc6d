package middleware

import (
	"context"
	"time"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

// Timeout returns middleware that enforces a request deadline. Handlers see
// the cancellation through their context; a handler that honors it surfaces
// the deadline as an internal error response.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, t, req, emit)
		}
	}
}
