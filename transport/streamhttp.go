package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/tmaxmax/go-sse"

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
	"github.com/eyjolfurgudnivatne/mcp-gateway/session"
)

// HeaderSessionID carries the session identifier on the streaming HTTP
// transport. It is set by the server on the initialize response and must be
// echoed by the client on every subsequent call.
const HeaderSessionID = "Mcp-Session-Id"

var (
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}

	errStreamNotAcceptable = errors.New("client does not accept text/event-stream")
)

// StreamHTTP implements the unified streaming transport: POST delivers
// requests and notifications, GET opens the session's server-push event
// stream, DELETE terminates the session. Session errors surface as HTTP
// status codes, never as JSON-RPC error bodies.
type StreamHTTP struct {
	addr         string
	readTimeout  time.Duration
	maxBodyBytes int64
	corsConfig   *CORSConfig
	shutdown     *ShutdownManager

	store    *session.Store
	ownStore bool

	mu         sync.RWMutex
	listenAddr string
	server     *http.Server
}

// StreamHTTPOption configures the streaming HTTP transport.
type StreamHTTPOption func(*StreamHTTP)

// WithStreamReadTimeout sets the read timeout for incoming requests. There is
// deliberately no write timeout: it would sever long-lived event streams.
func WithStreamReadTimeout(d time.Duration) StreamHTTPOption {
	return func(s *StreamHTTP) {
		s.readTimeout = d
	}
}

// WithStreamMaxBodyBytes caps the accepted request body size.
func WithStreamMaxBodyBytes(n int64) StreamHTTPOption {
	return func(s *StreamHTTP) {
		s.maxBodyBytes = n
	}
}

// WithSessionStore supplies an externally owned session store. The caller is
// then responsible for closing it.
func WithSessionStore(store *session.Store) StreamHTTPOption {
	return func(s *StreamHTTP) {
		s.store = store
		s.ownStore = false
	}
}

// WithStreamShutdownManager installs a shutdown manager; while it is
// draining, new calls are rejected with 503 and open event streams close.
func WithStreamShutdownManager(sm *ShutdownManager) StreamHTTPOption {
	return func(s *StreamHTTP) {
		s.shutdown = sm
	}
}

// WithStreamCORS configures CORS for the streaming transport.
func WithStreamCORS(config CORSConfig) StreamHTTPOption {
	return func(s *StreamHTTP) {
		s.corsConfig = &config
	}
}

// NewStreamHTTP creates a streaming HTTP transport listening on addr. Unless
// WithSessionStore is given, it owns a store with default idle eviction.
func NewStreamHTTP(addr string, opts ...StreamHTTPOption) *StreamHTTP {
	s := &StreamHTTP{
		addr:         addr,
		readTimeout:  30 * time.Second,
		maxBodyBytes: 4 << 20,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		s.store = session.NewStore()
		s.ownStore = true
	}

	return s
}

// Addr returns the configured address.
func (s *StreamHTTP) Addr() string {
	return s.addr
}

// ListenAddr returns the actual address the server is listening on.
func (s *StreamHTTP) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

// Sessions exposes the transport's session store.
func (s *StreamHTTP) Sessions() *session.Store {
	return s.store
}

// Serve starts the server and handles requests until ctx is canceled.
func (s *StreamHTTP) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	s.listenAddr = listener.Addr().String()
	s.server = &http.Server{
		Handler:     s.createHandler(handler),
		ReadTimeout: s.readTimeout,
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	defer func() {
		if s.ownStore {
			s.store.Close()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *StreamHTTP) createHandler(handler Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handlePost(w, r, handler)
		case http.MethodGet:
			s.handleGet(w, r)
		case http.MethodDelete:
			s.handleDelete(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	var root http.Handler = mux
	if s.corsConfig != nil {
		root = CORSHandler(*s.corsConfig, root)
	}
	return root
}

// handlePost delivers one request or notification. Initialize with no
// session header creates a session and returns its identifier in the
// response header; every other call must echo a known identifier.
func (s *StreamHTTP) handlePost(w http.ResponseWriter, r *http.Request, handler Handler) {
	if s.shutdown != nil && !s.shutdown.TrackRequest() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if s.shutdown != nil {
		defer s.shutdown.CompleteRequest()
	}

	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	req, perr := protocol.ParseMessage(body)
	if perr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(protocol.NewErrorResponse(nil, perr))
		return
	}

	sid := r.Header.Get(HeaderSessionID)

	var sess *session.Session
	switch {
	case sid == "" && req.Method == protocol.MethodInitialize:
		sess = s.store.Create()
		w.Header().Set(HeaderSessionID, sess.ID())
	case sid == "":
		w.WriteHeader(http.StatusBadRequest)
		return
	default:
		sess, err = s.store.Get(sid)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = s.store.Touch(sid)
	}

	ctx := protocol.ContextWithRequestMeta(r.Context(), requestMetaFromHeader(r.Header))
	ctx = ContextWithNotificationSender(ctx, &sessionSender{store: s.store, sid: sess.ID()})

	if req.IsNotification() {
		handler.Handle(ctx, registry.TransportStreamHTTP, req, nil)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Streamed frames upgrade the response to SSE on first use; a single
	// final response stays plain JSON.
	var sseSess *sse.Session
	emit := func(resp *protocol.Response) error {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if sseSess == nil {
			if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
				return errStreamNotAcceptable
			}
			up, err := sse.Upgrade(w, r)
			if err != nil {
				return err
			}
			sseSess = up
		}
		msg := &sse.Message{Type: sse.Type("message")}
		msg.AppendData(string(data))
		if err := sseSess.Send(msg); err != nil {
			return err
		}
		return sseSess.Flush()
	}

	res := handler.Handle(ctx, registry.TransportStreamHTTP, req, emit)
	switch {
	case res.Streamed:
		if sseSess == nil {
			w.WriteHeader(http.StatusNotAcceptable)
		}
	case res.Response != nil:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res.Response)
	}
}

// handleGet attaches the session's server-push event stream. At most one
// stream may be open per session.
func (s *StreamHTTP) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.shutdown != nil && s.shutdown.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sess, err := s.store.Get(sid)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	events, err := sess.AttachStream()
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		return
	}
	defer sess.DetachStream()

	_ = s.store.Touch(sid)

	sseSess, err := sse.Upgrade(w, r)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.draining():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			msg := &sse.Message{Type: sse.Type("message")}
			msg.AppendData(string(event))
			if err := sseSess.Send(msg); err != nil {
				return
			}
			if err := sseSess.Flush(); err != nil {
				return
			}
		}
	}
}

// draining returns the drain channel, or a nil channel (blocks forever) when
// no shutdown manager is installed.
func (s *StreamHTTP) draining() <-chan struct{} {
	if s.shutdown == nil {
		return nil
	}
	return s.shutdown.Draining()
}

// handleDelete explicitly terminates a session. A deleted identifier behaves
// like one that was never issued.
func (s *StreamHTTP) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.store.Delete(sid); err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionSender publishes server-initiated notifications onto the session's
// event stream, where the GET side delivers them. It resolves the session on
// every send: once the session is deleted or idle-evicted, sends fail, and
// subscribers holding the sender can drop it.
type sessionSender struct {
	store *session.Store
	sid   string
}

func (s *sessionSender) SendNotification(method string, params any) error {
	sess, err := s.store.Get(s.sid)
	if err != nil {
		return err
	}
	notif, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	sess.Publish(data)
	return nil
}
