// Package transport provides the gateway's transport implementations: plain
// HTTP, session-based streaming HTTP, WebSocket, and a line-oriented pipe.
package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

// Handler processes decoded requests on behalf of a transport. The transport
// identifies itself so that definition visibility can be resolved per call.
// Streamed response frames are delivered through emit; the returned result
// carries at most one of a final response, a streamed marker, or a duplex
// hand-off.
type Handler interface {
	Handle(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result
}

// HandlerFunc is an adapter to allow ordinary functions as handlers.
type HandlerFunc func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result

// Handle calls f(ctx, t, req, emit).
func (f HandlerFunc) Handle(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
	return f(ctx, t, req, emit)
}

// Transport defines the communication layer interface.
type Transport interface {
	// Serve starts the transport, blocking until ctx is canceled or an error occurs.
	Serve(ctx context.Context, handler Handler) error

	// Addr returns the transport's address description.
	Addr() string
}

// NotificationSender can send JSON-RPC notifications to clients. Transports
// with a server-to-client channel attach one to the request context.
type NotificationSender interface {
	SendNotification(method string, params any) error
}

type notificationSenderKey struct{}

// ContextWithNotificationSender returns a context with the notification sender attached.
func ContextWithNotificationSender(ctx context.Context, sender NotificationSender) context.Context {
	return context.WithValue(ctx, notificationSenderKey{}, sender)
}

// NotificationSenderFromContext returns the notification sender from context, or nil if none.
func NotificationSenderFromContext(ctx context.Context) NotificationSender {
	sender, _ := ctx.Value(notificationSenderKey{}).(NotificationSender)
	return sender
}

// Notification represents a JSON-RPC notification (no ID, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// requestMetaFromHeader flattens HTTP headers into request metadata so
// credential-reading middleware sees them without knowing the transport.
// Only the first value of each header is kept.
func requestMetaFromHeader(h http.Header) protocol.RequestMeta {
	meta := make(protocol.RequestMeta, len(h))
	for name, values := range h {
		if len(values) > 0 {
			meta[name] = values[0]
		}
	}
	return meta
}

// NewNotification builds a notification envelope with marshaled params.
func NewNotification(method string, params any) (*Notification, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Notification{JSONRPC: protocol.JSONRPCVersion, Method: method, Params: raw}, nil
}
