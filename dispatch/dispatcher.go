// Package dispatch turns parsed JSON-RPC requests into handler invocations
// and handler outcomes into wire responses. The handler shape is a tagged
// union fixed at registration time, so dispatching is a single switch with
// no runtime type inspection.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
	"github.com/eyjolfurgudnivatne/mcp-gateway/schema"
)

// Emitter delivers one response frame to the transport. Sequence handlers
// emit several frames through it, all carrying the originating request's
// identifier.
type Emitter func(*protocol.Response) error

// Handoff asks the transport to hand the connection to the streaming
// protocol engine. The dispatcher's role ends once it returns one.
type Handoff struct {
	Definition *registry.Definition
	Args       json.RawMessage
}

// Result of dispatching one message. At most one field is populated: a
// single response, an already-emitted stream (frames went through the
// Emitter), a duplex hand-off, or nothing at all for notifications.
type Result struct {
	Response *protocol.Response
	Streamed bool
	Handoff  *Handoff
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dropped notification failures.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// Dispatcher resolves and invokes callable definitions.
type Dispatcher struct {
	registry *registry.Registry
	log      *slog.Logger
}

// New creates a dispatcher over the given registry.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: reg, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Call dispatches one request (or notification) naming a definition of the
// given kind. The transport decides visibility; a definition that exists but
// is hidden on this transport reports method-not-found with a distinct
// message, never a different code.
func (d *Dispatcher) Call(ctx context.Context, req *protocol.Request, t registry.Transport, kind registry.Kind, name string, args json.RawMessage, emit Emitter) *Result {
	snap := d.registry.Snapshot()

	def, ok := snap.Lookup(name)
	if !ok || def.Kind != kind {
		return d.reject(req, protocol.NewMethodNotFound(kind.String()+" does not exist: "+name))
	}
	if !registry.Eligible(t, def) {
		return d.reject(req, protocol.NewMethodNotFound(kind.String()+" is not supported on this transport: "+name))
	}

	if def.InputSchema != nil {
		if err := def.InputSchema.Validate(args); err != nil {
			return d.reject(req, protocol.NewInvalidParams(err.Error()))
		}
	}

	if req.IsNotification() {
		d.fireAndForget(ctx, def, name, args)
		return &Result{}
	}

	switch {
	case def.Handler.Sync != nil:
		value, err := def.Handler.Sync(ctx, args)
		if err != nil {
			return &Result{Response: protocol.NewErrorResponse(req.ID, WireError(err))}
		}
		return &Result{Response: protocol.NewResponse(req.ID, value)}

	case def.Handler.Async != nil:
		// Awaited inline: the response goes out only once the outcome lands,
		// same as Sync from the caller's side.
		select {
		case out := <-def.Handler.Async(ctx, args):
			if out.Err != nil {
				return &Result{Response: protocol.NewErrorResponse(req.ID, WireError(out.Err))}
			}
			return &Result{Response: protocol.NewResponse(req.ID, out.Value)}
		case <-ctx.Done():
			return &Result{Response: protocol.NewErrorResponse(req.ID, protocol.NewInternalError(ctx.Err().Error()))}
		}

	case def.Handler.Sequence != nil:
		return d.emitSequence(ctx, req, def, args, emit)

	case def.Handler.Connector != nil:
		return &Result{Handoff: &Handoff{Definition: def, Args: args}}
	}

	// Unreachable: registration validates that exactly one shape is set.
	return d.reject(req, protocol.NewInternalError("definition has no handler"))
}

// emitSequence streams one response frame per element, every frame reusing
// the request identifier, then an explicit terminal frame. After an error
// frame the stream is terminal and nothing further is emitted.
func (d *Dispatcher) emitSequence(ctx context.Context, req *protocol.Request, def *registry.Definition, args json.RawMessage, emit Emitter) *Result {
	// Registration requires a streaming capability for sequence handlers, so
	// eligibility keeps them off transports that dispatch without an emitter.
	if emit == nil {
		return &Result{Response: protocol.NewErrorResponse(req.ID, protocol.NewInternalError("transport cannot carry streamed frames"))}
	}

	count := 0
	for value, err := range def.Handler.Sequence(ctx, args) {
		if err != nil {
			_ = emit(protocol.NewErrorResponse(req.ID, WireError(err)))
			return &Result{Streamed: true}
		}
		frame := protocol.NewResponse(req.ID, map[string]any{"value": value})
		if emitErr := emit(frame); emitErr != nil {
			// The consumer is gone; stop producing.
			return &Result{Streamed: true}
		}
		count++
	}

	_ = emit(protocol.NewResponse(req.ID, map[string]any{"complete": true, "count": count}))
	return &Result{Streamed: true}
}

// fireAndForget runs a handler for a notification. Results are discarded
// and failures never become wire responses; they are logged and dropped.
func (d *Dispatcher) fireAndForget(ctx context.Context, def *registry.Definition, name string, args json.RawMessage) {
	var err error
	switch {
	case def.Handler.Sync != nil:
		_, err = def.Handler.Sync(ctx, args)
	case def.Handler.Async != nil:
		select {
		case out := <-def.Handler.Async(ctx, args):
			err = out.Err
		case <-ctx.Done():
			err = ctx.Err()
		}
	case def.Handler.Sequence != nil:
		for _, seqErr := range def.Handler.Sequence(ctx, args) {
			if seqErr != nil {
				err = seqErr
				break
			}
		}
	case def.Handler.Connector != nil:
		err = errors.New("duplex handlers cannot run as notifications")
	}

	if err != nil {
		d.log.Warn("notification handler failed", "name", name, "err", err)
	}
}

// reject emits nothing for notifications; requests get the error response.
func (d *Dispatcher) reject(req *protocol.Request, perr *protocol.Error) *Result {
	if req.IsNotification() {
		d.log.Warn("dropping failed notification", "method", req.Method, "code", perr.Code, "err", perr.Message)
		return &Result{}
	}
	return &Result{Response: protocol.NewErrorResponse(req.ID, perr)}
}

// WireError maps a handler error to the JSON-RPC error object. Protocol
// errors (including the auth codes) pass through untouched; validation
// errors map to invalid-params with the message text only; anything else is
// an internal error with the cause in the structured detail.
func WireError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}

	var verrs schema.ValidationErrors
	var verr *schema.ValidationError
	if errors.As(err, &verrs) || errors.As(err, &verr) {
		return protocol.NewInvalidParams(err.Error())
	}

	return protocol.NewInternalError("internal error").WithData(err.Error())
}
