package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
)

// Message types mirrored from gorilla/websocket so the engine can be tested
// against fake connections without importing the websocket package.
const (
	TextMessage   = 1
	BinaryMessage = 2
)

// Conn is the subset of a WebSocket connection the engine needs. The engine
// never reads; the transport's receive loop owns the read side and feeds
// frames in via HandleControl and HandleBinary.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkBuffer sets the inbound chunk buffer per exchange. When full, the
// receive loop blocks (backpressure) instead of buffering without limit.
func WithChunkBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkBuffer = n
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// Engine multiplexes duplex exchanges over one connection. It owns the
// connection's write side behind a single mutex: handler outbound chunks and
// engine control frames never interleave.
type Engine struct {
	conn        Conn
	log         *slog.Logger
	chunkBuffer int

	writeMu sync.Mutex

	mu        sync.Mutex
	exchanges map[string]*Exchange
	closed    bool
}

// NewEngine creates an engine for one connection.
func NewEngine(conn Conn, opts ...Option) *Engine {
	e := &Engine{
		conn:        conn,
		log:         slog.Default(),
		chunkBuffer: 32,
		exchanges:   make(map[string]*Exchange),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WriteJSON serializes v and writes it as a single text frame under the
// connection's writer lock. Transports use this for every JSON-RPC message
// they emit so responses and stream frames share one writer.
func (e *Engine) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteMessage(TextMessage, data)
}

func (e *Engine) writeControl(f *ControlFrame) error {
	return e.WriteJSON(f)
}

func (e *Engine) writeBinary(frame []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteMessage(BinaryMessage, frame)
}

// Start opens a new exchange correlated to the given request identifier and
// announces it to the peer with a start frame.
func (e *Engine) Start(id json.RawMessage, kind Kind, dir Direction) (*Exchange, error) {
	key := string(id)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrExchangeFailed
	}
	if _, exists := e.exchanges[key]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("stream: exchange %s already open", key)
	}
	ex := &Exchange{
		engine:  e,
		id:      id,
		key:     key,
		kind:    kind,
		dir:     dir,
		inbound: make(chan []byte, e.chunkBuffer),
		done:    make(chan struct{}),
	}
	if dir&Inbound == 0 {
		// No client payload direction; its side is vacuously done.
		ex.inDone = true
		close(ex.inbound)
	}
	e.exchanges[key] = ex
	e.mu.Unlock()

	err := e.writeControl(&ControlFrame{
		Type:       FrameStart,
		ID:         id,
		Kind:       kind,
		Directions: dir.strings(),
	})
	if err != nil {
		e.Release(ex)
		return nil, err
	}
	return ex, nil
}

// Release drops a terminal exchange from the engine's table. Called by the
// transport once the exchange's result has been delivered.
func (e *Engine) Release(ex *Exchange) {
	e.mu.Lock()
	delete(e.exchanges, ex.key)
	e.mu.Unlock()
}

func (e *Engine) lookup(id json.RawMessage) *Exchange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exchanges[string(id)]
}

// HandleControl routes one inbound control frame. Must be called from the
// connection's single receive loop.
func (e *Engine) HandleControl(data []byte) {
	var frame ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		e.log.Warn("stream: discarding malformed control frame", "err", err)
		return
	}

	ex := e.lookup(frame.ID)
	if ex == nil {
		// Unknown correlation id is fatal only to that id.
		_ = e.writeControl(&ControlFrame{
			Type:  FrameFail,
			ID:    frame.ID,
			Error: protocol.NewInvalidRequest("unknown stream exchange"),
		})
		return
	}

	switch frame.Type {
	case FrameChunk:
		if frame.Seq == nil {
			e.violation(ex, "chunk frame missing sequence number")
			return
		}
		e.deliver(ex, *frame.Seq, []byte(frame.Data))
	case FrameDone:
		ex.finishInbound(frame.Summary)
	case FrameFail:
		perr := frame.Error
		if perr == nil {
			perr = protocol.NewInternalError("peer failed the exchange")
		}
		// Transition locally only; the peer already knows.
		ex.failLocal(perr)
	case FrameStart:
		e.violation(ex, "peer may not start a server-owned exchange")
	}
}

// HandleBinary routes one inbound binary payload frame. Must be called from
// the connection's single receive loop.
func (e *Engine) HandleBinary(data []byte) {
	id, seq, payload, err := DecodeBinaryChunk(data)
	if err != nil {
		e.log.Warn("stream: discarding malformed binary frame", "err", err)
		return
	}

	ex := e.lookup(id)
	if ex == nil {
		_ = e.writeControl(&ControlFrame{
			Type:  FrameFail,
			ID:    id,
			Error: protocol.NewInvalidRequest("unknown stream exchange"),
		})
		return
	}
	e.deliver(ex, seq, payload)
}

// deliver validates the chunk's sequence number and hands it to the handler.
// A gap, duplicate, regression, or chunk arriving after the client's done
// fails the exchange before the chunk is processed.
func (e *Engine) deliver(ex *Exchange, seq uint64, payload []byte) {
	if ex.dir&Inbound == 0 {
		e.violation(ex, "exchange has no inbound direction")
		return
	}
	if ex.State() != Open {
		return
	}
	if ex.inboundClosed() {
		// The channel backing delivery is closed once the client signals
		// done; a late chunk is a protocol violation, not a delivery.
		e.violation(ex, "chunk received after done")
		return
	}
	if seq != ex.nextInSeq {
		e.violation(ex, fmt.Sprintf("out-of-order chunk: got seq %d, want %d", seq, ex.nextInSeq))
		return
	}
	ex.nextInSeq++

	// Bounded delivery: blocks when the handler is slow, unblocks if the
	// exchange dies underneath us.
	select {
	case ex.inbound <- payload:
	case <-ex.done:
	}
}

func (e *Engine) violation(ex *Exchange, msg string) {
	_ = ex.Fail(protocol.NewInvalidRequest(msg))
}

// Close forces every open exchange to Failed with a connection-closed
// reason, unblocking any handler awaiting chunks or completion. Called by
// the transport when the physical connection goes away.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	open := make([]*Exchange, 0, len(e.exchanges))
	for _, ex := range e.exchanges {
		open = append(open, ex)
	}
	e.exchanges = make(map[string]*Exchange)
	e.mu.Unlock()

	for _, ex := range open {
		ex.failLocal(protocol.NewInternalError("connection closed"))
	}
}
