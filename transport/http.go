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

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// HTTP implements the plain request/response transport: one POST per call,
// no session state, Standard-capability definitions only.
type HTTP struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxBodyBytes int64
	corsConfig   *CORSConfig
	shutdown     *ShutdownManager

	mu         sync.RWMutex
	listenAddr string
	server     *http.Server
}

// HTTPOption configures the HTTP transport.
type HTTPOption func(*HTTP)

// WithReadTimeout sets the read timeout for HTTP requests.
func WithReadTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.readTimeout = d
	}
}

// WithWriteTimeout sets the write timeout for HTTP responses.
func WithWriteTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.writeTimeout = d
	}
}

// WithMaxBodyBytes caps the accepted request body size.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTP) {
		h.maxBodyBytes = n
	}
}

// WithShutdownManager installs a shutdown manager; while it is draining, new
// requests are rejected with 503.
func WithShutdownManager(sm *ShutdownManager) HTTPOption {
	return func(h *HTTP) {
		h.shutdown = sm
	}
}

// NewHTTP creates a new plain HTTP transport listening on addr.
func NewHTTP(addr string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		addr:         addr,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		maxBodyBytes: 4 << 20,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Addr returns the configured address.
func (h *HTTP) Addr() string {
	return h.addr
}

// ListenAddr returns the actual address the server is listening on.
func (h *HTTP) ListenAddr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listenAddr
}

// Serve starts the HTTP server and handles requests until ctx is canceled.
func (h *HTTP) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	h.mu.Lock()
	h.listenAddr = listener.Addr().String()
	h.server = &http.Server{
		Handler:      h.createHandler(handler),
		ReadTimeout:  h.readTimeout,
		WriteTimeout: h.writeTimeout,
	}
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (h *HTTP) createHandler(handler Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		h.handleMCP(w, r, handler)
	})

	var root http.Handler = mux
	if h.corsConfig != nil {
		root = CORSHandler(*h.corsConfig, root)
	}
	return root
}

// handleMCP handles one JSON-RPC exchange over a POST. RPC-level failures
// (parse, routing, validation, execution) ride a 200 status with an error
// body; only transport-level conditions use HTTP status codes.
func (h *HTTP) handleMCP(w http.ResponseWriter, r *http.Request, handler Handler) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.shutdown != nil && !h.shutdown.TrackRequest() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if h.shutdown != nil {
		defer h.shutdown.CompleteRequest()
	}

	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	req, perr := protocol.ParseMessage(body)
	if perr != nil {
		_ = json.NewEncoder(w).Encode(protocol.NewErrorResponse(nil, perr))
		return
	}

	ctx := protocol.ContextWithRequestMeta(r.Context(), requestMetaFromHeader(r.Header))
	res := handler.Handle(ctx, registry.TransportHTTP, req, nil)
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if res.Response != nil {
		_ = json.NewEncoder(w).Encode(res.Response)
	}
}
