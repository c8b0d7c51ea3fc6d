package middleware

import (
	"context"
	"fmt"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

// SizeLimitOption configures the size limit middleware.
type SizeLimitOption func(*sizeLimitConfig)

type sizeLimitConfig struct {
	logger Logger
}

// WithSizeLimitLogger sets the logger for size limit events.
func WithSizeLimitLogger(l Logger) SizeLimitOption {
	return func(o *sizeLimitConfig) {
		o.logger = l
	}
}

// SizeLimit returns middleware that rejects requests whose params exceed
// maxBytes.
func SizeLimit(maxBytes int64, opts ...SizeLimitOption) Middleware {
	cfg := &sizeLimitConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
			if size := int64(len(req.Params)); size > maxBytes {
				if cfg.logger != nil {
					cfg.logger.Warn("request size limit exceeded",
						F("method", req.Method),
						F("size", size),
						F("max", maxBytes),
					)
				}
				return errorResult(req, &protocol.Error{
					Code:    protocol.CodeInvalidRequest,
					Message: fmt.Sprintf("request size %d exceeds limit of %d bytes", size, maxBytes),
				})
			}

			return next(ctx, t, req, emit)
		}
	}
}

// Common size limit presets.
const (
	// KB is 1024 bytes.
	KB = 1024
	// MB is 1024 * 1024 bytes.
	MB = 1024 * 1024
)
