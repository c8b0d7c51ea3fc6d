// Package middleware provides composable request middleware for the gateway.
package middleware

import (
	"context"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

// HandlerFunc is the signature for request handlers: the same shape the
// transports call, so middleware can sit between a transport and the
// dispatcher.
type HandlerFunc func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middleware into a single middleware.
// Middleware are applied in order, so Chain(m1, m2, m3) results in
// m1 wrapping m2 wrapping m3 wrapping the final handler.
func Chain(middlewares ...Middleware) Middleware {
	return func(final HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// MiddlewareChain provides a fluent API for building middleware chains.
type MiddlewareChain struct {
	middlewares []Middleware
}

// Use creates a new middleware chain starting with the given middleware.
func Use(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: middlewares,
	}
}

// Append adds middleware to the chain and returns the updated chain.
func (c *MiddlewareChain) Append(middlewares ...Middleware) *MiddlewareChain {
	c.middlewares = append(c.middlewares, middlewares...)
	return c
}

// Then applies the middleware chain to a handler and returns the wrapped handler.
func (c *MiddlewareChain) Then(handler HandlerFunc) HandlerFunc {
	return Chain(c.middlewares...)(handler)
}

// errorResult turns a protocol error into the result a middleware short
// circuits with. Notifications have no response channel; the error is
// dropped, matching the boundary's fire-and-forget rule.
func errorResult(req *protocol.Request, perr *protocol.Error) *dispatch.Result {
	if req.IsNotification() {
		return &dispatch.Result{}
	}
	return &dispatch.Result{Response: protocol.NewErrorResponse(req.ID, perr)}
}
