package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
	"github.com/eyjolfurgudnivatne/mcp-gateway/stream"
)

// WebSocket implements the persistent socket transport. It carries the full
// method surface plus the duplex streaming sub-protocol: control frames and
// binary chunks are routed to a per-connection stream engine, everything else
// is a JSON-RPC exchange.
type WebSocket struct {
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server

	readTimeout  time.Duration
	writeTimeout time.Duration
	chunkBuffer  int
	shutdown     *ShutdownManager

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// wsClient is one upgraded connection. All writes flow through the engine's
// single writer lock so that frames from different exchanges never interleave.
type wsClient struct {
	conn   *websocket.Conn
	engine *stream.Engine
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketReadTimeout sets the read timeout for WebSocket messages.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.readTimeout = d
	}
}

// WithWebSocketWriteTimeout sets the write timeout for WebSocket messages.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.writeTimeout = d
	}
}

// WithWebSocketCheckOrigin sets the origin check function for upgrades.
func WithWebSocketCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(ws *WebSocket) {
		ws.upgrader.CheckOrigin = fn
	}
}

// WithWebSocketShutdownManager installs a shutdown manager; while it is
// draining, upgrades are rejected with 503 and live connections are closed.
// Each connection counts as one in-flight unit for draining purposes.
func WithWebSocketShutdownManager(sm *ShutdownManager) WebSocketOption {
	return func(ws *WebSocket) {
		ws.shutdown = sm
	}
}

// WithWebSocketChunkBuffer sets the per-exchange inbound chunk buffer.
func WithWebSocketChunkBuffer(n int) WebSocketOption {
	return func(ws *WebSocket) {
		ws.chunkBuffer = n
	}
}

// NewWebSocket creates a new WebSocket transport listening on addr.
func NewWebSocket(addr string, opts ...WebSocketOption) *WebSocket {
	ws := &WebSocket{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		clients:      make(map[*wsClient]struct{}),
	}

	for _, opt := range opts {
		opt(ws)
	}

	return ws
}

// Addr returns the transport address.
func (ws *WebSocket) Addr() string {
	return ws.addr
}

// Serve starts the WebSocket server.
func (ws *WebSocket) Serve(ctx context.Context, handler Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws.handleConnection(ctx, w, r, handler)
	})

	ws.server = &http.Server{
		Addr:         ws.addr,
		Handler:      mux,
		ReadTimeout:  ws.readTimeout,
		WriteTimeout: ws.writeTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.closeAllClients()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// ServeConn runs the protocol loop on an already upgraded connection. It
// returns when the connection closes.
func (ws *WebSocket) ServeConn(ctx context.Context, conn *websocket.Conn, handler Handler) {
	ws.serveClient(ctx, conn, handler)
}

func (ws *WebSocket) handleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request, handler Handler) {
	if ws.shutdown != nil {
		if !ws.shutdown.TrackRequest() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		defer ws.shutdown.CompleteRequest()
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	// Credentials arrive with the upgrade request; every call on this
	// connection shares them.
	ctx = protocol.ContextWithRequestMeta(ctx, requestMetaFromHeader(r.Header))
	ws.serveClient(ctx, conn, handler)
}

func (ws *WebSocket) serveClient(ctx context.Context, conn *websocket.Conn, handler Handler) {
	var engineOpts []stream.Option
	if ws.chunkBuffer > 0 {
		engineOpts = append(engineOpts, stream.WithChunkBuffer(ws.chunkBuffer))
	}

	client := &wsClient{
		conn:   conn,
		engine: stream.NewEngine(conn, engineOpts...),
	}

	ws.mu.Lock()
	ws.clients[client] = struct{}{}
	ws.mu.Unlock()

	// A connection-scoped context: closing the socket cancels every handler
	// and duplex exchange tied to it.
	connCtx, cancel := context.WithCancel(ctx)

	defer func() {
		cancel()
		client.engine.Close()
		ws.mu.Lock()
		delete(ws.clients, client)
		ws.mu.Unlock()
		_ = conn.Close()
	}()

	connCtx = ContextWithNotificationSender(connCtx, &wsNotificationSender{client: client})

	if ws.shutdown != nil {
		// Draining closes the socket, which unblocks the read loop below.
		go func() {
			select {
			case <-ws.shutdown.Draining():
				client.close()
			case <-connCtx.Done():
			}
		}()
	}

	// This loop is the sole reader of the connection. Duplex chunk and
	// control traffic goes to the engine; everything else is JSON-RPC.
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		if ws.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
		}

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			client.engine.HandleBinary(message)
		case websocket.TextMessage:
			if stream.IsControlFrame(message) {
				client.engine.HandleControl(message)
				continue
			}
			ws.handleMessage(connCtx, client, handler, message)
		}
	}
}

func (ws *WebSocket) handleMessage(ctx context.Context, client *wsClient, handler Handler, message []byte) {
	req, perr := protocol.ParseMessage(message)
	if perr != nil {
		_ = client.engine.WriteJSON(protocol.NewErrorResponse(nil, perr))
		return
	}

	emit := func(resp *protocol.Response) error {
		return client.engine.WriteJSON(resp)
	}

	res := handler.Handle(ctx, registry.TransportWebSocket, req, emit)
	switch {
	case res.Handoff != nil:
		ws.runConnector(ctx, client, req, res.Handoff)
	case res.Response != nil:
		_ = client.engine.WriteJSON(res.Response)
	}
}

// runConnector opens a duplex exchange for the request and runs the
// connector handler in its own goroutine, leaving the read loop free to feed
// inbound chunks. The final JSON-RPC response is sent once the exchange
// reaches a terminal state.
func (ws *WebSocket) runConnector(ctx context.Context, client *wsClient, req *protocol.Request, h *dispatch.Handoff) {
	ex, err := client.engine.Start(req.ID, h.Definition.StreamKind, h.Definition.StreamDirection)
	if err != nil {
		_ = client.engine.WriteJSON(protocol.NewErrorResponse(req.ID, dispatch.WireError(err)))
		return
	}

	go func() {
		defer client.engine.Release(ex)

		if err := h.Definition.Handler.Connector(ctx, h.Args, ex); err != nil {
			perr := dispatch.WireError(err)
			_ = ex.Fail(perr)
			_ = client.engine.WriteJSON(protocol.NewErrorResponse(req.ID, perr))
			return
		}

		// Handlers that returned without signalling get an implicit done;
		// terminal exchanges ignore it.
		_ = ex.Done(nil)

		summary, err := ex.Wait(ctx)
		if err != nil {
			_ = client.engine.WriteJSON(protocol.NewErrorResponse(req.ID, dispatch.WireError(err)))
			return
		}
		_ = client.engine.WriteJSON(protocol.NewResponse(req.ID, map[string]any{
			"summary": summary,
		}))
	}()
}

func (ws *WebSocket) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for client := range ws.clients {
		client.close()
	}
}

func (c *wsClient) close() {
	c.engine.Close()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// wsNotificationSender sends notifications through the connection's
// serialized writer.
type wsNotificationSender struct {
	client *wsClient
}

func (s *wsNotificationSender) SendNotification(method string, params any) error {
	notif, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.client.engine.WriteJSON(notif)
}
