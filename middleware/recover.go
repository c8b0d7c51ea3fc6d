package middleware

import (
	"context"
	"fmt"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

// PanicHandler is called when a panic is recovered.
type PanicHandler func(ctx context.Context, req *protocol.Request, panicVal any) *protocol.Error

// Recover returns middleware that catches panics and converts them to
// internal error responses. Panics during a notification are swallowed after
// conversion, like any other notification failure.
func Recover() Middleware {
	return RecoverWithHandler(defaultPanicHandler)
}

// RecoverWithHandler returns middleware that catches panics and calls the
// provided handler. This allows for custom panic handling such as alerting.
func RecoverWithHandler(handler PanicHandler) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) (res *dispatch.Result) {
			defer func() {
				if r := recover(); r != nil {
					res = errorResult(req, handler(ctx, req, r))
				}
			}()
			return next(ctx, t, req, emit)
		}
	}
}

func defaultPanicHandler(_ context.Context, _ *protocol.Request, panicVal any) *protocol.Error {
	return protocol.NewInternalError(fmt.Sprintf("panic: %v", panicVal))
}
