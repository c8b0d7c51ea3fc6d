// Package gateway is a multi-transport JSON-RPC 2.0 gateway for MCP-style
// callable registries. One registry of tools, prompts, and resources is
// served over four wires at once:
//   - plain HTTP POST, one exchange per request
//   - session-based streaming HTTP with server-push events
//   - WebSocket with a duplex streaming sub-protocol
//   - a line-oriented pipe (stdio by default)
//
// Each callable declares capability flags that decide which transports may
// see and call it; a transport that cannot carry a callable's traffic never
// lists it.
//
// Basic usage:
//
//	srv := gateway.New(gateway.Info{Name: "my-gateway", Version: "1.0.0"})
//
//	type EchoInput struct {
//	    Text string `json:"text" jsonschema:"required"`
//	}
//
//	srv.Tool("echo").
//	    Description("Echo the input back").
//	    Input(EchoInput{}).
//	    Sync(func(ctx context.Context, args json.RawMessage) (any, error) {
//	        var in EchoInput
//	        if err := json.Unmarshal(args, &in); err != nil {
//	            return nil, err
//	        }
//	        return map[string]any{"text": in.Text}, nil
//	    })
//
//	gateway.ServeStdio(ctx, srv)
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/middleware"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
	"github.com/eyjolfurgudnivatne/mcp-gateway/transport"
)

// Info identifies the server to clients during the initialize handshake.
type Info struct {
	Name    string
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithMiddleware adds middleware to the request pipeline, outermost first.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, m...)
	}
}

// WithLogger installs the default middleware stack around the given logger.
func WithLogger(l middleware.Logger) Option {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, middleware.DefaultStack(l)...)
	}
}

// Server routes protocol methods to a callable registry and broadcasts
// list-changed notifications to subscribed connections. It implements
// transport.Handler, so one Server can sit behind any number of transports
// concurrently.
type Server struct {
	info Info
	reg  *registry.Registry
	disp *dispatch.Dispatcher

	middlewares []middleware.Middleware

	pipeOnce sync.Once
	pipe     middleware.HandlerFunc

	subMu sync.Mutex
	subs  map[transport.NotificationSender]struct{}
}

// New creates a gateway server with the given identity.
func New(info Info, opts ...Option) *Server {
	reg := registry.New()
	s := &Server{
		info: info,
		reg:  reg,
		disp: dispatch.New(reg),
		subs: make(map[transport.NotificationSender]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use adds middleware to the request pipeline. Call it before the first
// request is served; the pipeline compiles once.
func (s *Server) Use(m ...middleware.Middleware) {
	s.middlewares = append(s.middlewares, m...)
}

// Registry exposes the underlying callable registry.
func (s *Server) Registry() *registry.Registry { return s.reg }

// Tool starts building a tool definition.
func (s *Server) Tool(name string) *registry.Builder { return s.reg.Tool(name) }

// Prompt starts building a prompt definition.
func (s *Server) Prompt(name string) *registry.Builder { return s.reg.Prompt(name) }

// Resource starts building a resource definition.
func (s *Server) Resource(name string) *registry.Builder { return s.reg.Resource(name) }

// Subscribe registers a connection's notification channel for list-changed
// broadcasts. The returned function removes the subscription; a sender whose
// delivery fails is also removed, so transports need not unsubscribe on
// close.
func (s *Server) Subscribe(sender transport.NotificationSender) func() {
	s.subMu.Lock()
	s.subs[sender] = struct{}{}
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, sender)
		s.subMu.Unlock()
	}
}

// NotifyListChanged broadcasts the list-changed notification for the given
// category to every subscribed connection. Call it after registering or
// unregistering definitions at runtime.
func (s *Server) NotifyListChanged(kind registry.Kind) {
	var method string
	switch kind {
	case registry.KindTool:
		method = protocol.MethodToolListChanged
	case registry.KindPrompt:
		method = protocol.MethodPromptListChanged
	case registry.KindResource:
		method = protocol.MethodResourceListChanged
	default:
		return
	}

	s.subMu.Lock()
	senders := make([]transport.NotificationSender, 0, len(s.subs))
	for sender := range s.subs {
		senders = append(senders, sender)
	}
	s.subMu.Unlock()

	for _, sender := range senders {
		if err := sender.SendNotification(method, nil); err != nil {
			s.subMu.Lock()
			delete(s.subs, sender)
			s.subMu.Unlock()
		}
	}
}

// Unregister removes a definition and broadcasts the matching list-changed
// notification.
func (s *Server) Unregister(name string) error {
	def, ok := s.reg.Snapshot().Lookup(name)
	if !ok {
		return fmt.Errorf("gateway: %q is not registered", name)
	}
	if err := s.reg.Unregister(name); err != nil {
		return err
	}
	s.NotifyListChanged(def.Kind)
	return nil
}

// pipeline compiles the middleware chain around the method router once. Add
// middleware before serving; later additions are not picked up.
func (s *Server) pipeline() middleware.HandlerFunc {
	s.pipeOnce.Do(func() {
		s.pipe = middleware.Chain(s.middlewares...)(middleware.HandlerFunc(s.route))
	})
	return s.pipe
}

// Handle implements transport.Handler.
func (s *Server) Handle(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
	return s.pipeline()(ctx, t, req, emit)
}

// ServeStdio runs the server over the line pipe transport, blocking until
// ctx is canceled.
func ServeStdio(ctx context.Context, srv *Server, opts ...transport.StdioOption) error {
	return transport.NewStdio(opts...).Serve(ctx, srv)
}

// ServeHTTP runs the server over the plain HTTP transport.
func ServeHTTP(ctx context.Context, srv *Server, addr string, opts ...transport.HTTPOption) error {
	return transport.NewHTTP(addr, opts...).Serve(ctx, srv)
}

// ServeStreamHTTP runs the server over the session-based streaming HTTP
// transport.
func ServeStreamHTTP(ctx context.Context, srv *Server, addr string, opts ...transport.StreamHTTPOption) error {
	return transport.NewStreamHTTP(addr, opts...).Serve(ctx, srv)
}

// ServeWebSocket runs the server over the WebSocket transport.
func ServeWebSocket(ctx context.Context, srv *Server, addr string, opts ...transport.WebSocketOption) error {
	return transport.NewWebSocket(addr, opts...).Serve(ctx, srv)
}

// Config is the host-process configuration, decoded from the environment.
type Config struct {
	HTTPAddr       string        `env:"GATEWAY_HTTP_ADDR,default=:8080"`
	StreamHTTPAddr string        `env:"GATEWAY_STREAMHTTP_ADDR,default=:8081"`
	WebSocketAddr  string        `env:"GATEWAY_WEBSOCKET_ADDR,default=:8082"`
	SessionIdle    time.Duration `env:"GATEWAY_SESSION_IDLE,default=5m"`
	RequestTimeout time.Duration `env:"GATEWAY_REQUEST_TIMEOUT,default=30s"`
	MaxBodyBytes   int64         `env:"GATEWAY_MAX_BODY_BYTES,default=4194304"`
}

// ConfigFromEnv decodes Config from the process environment. Unset variables
// fall back to the struct tag defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
