package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
)

// State of an exchange. Completed and Failed are terminal and final.
type State int

const (
	Open State = iota
	Completed
	Failed
)

// Errors returned to handlers operating on an exchange.
var (
	ErrExchangeFailed    = errors.New("stream: exchange failed")
	ErrExchangeDone      = errors.New("stream: exchange already terminal")
	ErrDirectionDisabled = errors.New("stream: direction not enabled on this exchange")
)

// Exchange is one duplex streaming call in progress on a connection.
// Handlers read inbound chunks with Recv, write outbound chunks with Send,
// and finish their side with Done or Fail. All methods are safe for
// concurrent use; outbound writes are serialized by the engine's writer.
type Exchange struct {
	engine *Engine
	id     json.RawMessage
	key    string
	kind   Kind
	dir    Direction

	// inbound is fed exclusively by the engine's receive loop. It is
	// bounded: a slow handler back-pressures the loop instead of growing
	// memory without limit.
	inbound chan []byte
	// nextInSeq is owned by the receive loop.
	nextInSeq uint64

	mu            sync.Mutex
	state         State
	nextOutSeq    uint64
	inDone        bool
	outDone       bool
	summary       json.RawMessage
	clientSummary json.RawMessage
	failure       *protocol.Error
	done          chan struct{}
}

// ID returns the correlation identifier (the originating request's id).
func (ex *Exchange) ID() json.RawMessage { return ex.id }

// Kind returns the content kind of the exchange.
func (ex *Exchange) Kind() Kind { return ex.kind }

// Direction returns the enabled payload directions.
func (ex *Exchange) Direction() Direction { return ex.dir }

// State returns the current exchange state.
func (ex *Exchange) State() State {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state
}

// Recv blocks until the next inbound chunk arrives. It returns io.EOF once
// the client has signalled done for its direction, and ErrExchangeFailed if
// the exchange fails (including connection close) while waiting.
func (ex *Exchange) Recv(ctx context.Context) ([]byte, error) {
	if ex.dir&Inbound == 0 {
		return nil, ErrDirectionDisabled
	}

	select {
	case data, ok := <-ex.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ex.done:
		if ex.State() == Failed {
			return nil, ErrExchangeFailed
		}
		// Drain chunks delivered before the completion transition.
		select {
		case data, ok := <-ex.inbound:
			if ok {
				return data, nil
			}
			return nil, io.EOF
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send writes one outbound payload chunk with the next sequence number.
func (ex *Exchange) Send(ctx context.Context, payload []byte) error {
	if ex.dir&Outbound == 0 {
		return ErrDirectionDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ex.mu.Lock()
	if ex.state != Open {
		ex.mu.Unlock()
		return ErrExchangeFailed
	}
	if ex.outDone {
		ex.mu.Unlock()
		return ErrExchangeDone
	}
	seq := ex.nextOutSeq
	ex.nextOutSeq++
	ex.mu.Unlock()

	if ex.kind == KindBinary {
		frame, err := EncodeBinaryChunk(ex.id, seq, payload)
		if err != nil {
			return err
		}
		return ex.engine.writeBinary(frame)
	}
	return ex.engine.writeControl(&ControlFrame{
		Type: FrameChunk,
		ID:   ex.id,
		Seq:  &seq,
		Data: string(payload),
	})
}

// Done ends the server's outbound side with an application-defined summary.
// Re-signalling a terminal exchange is a no-op.
func (ex *Exchange) Done(summary any) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}

	ex.mu.Lock()
	if ex.state != Open || ex.outDone {
		ex.mu.Unlock()
		return nil
	}
	ex.outDone = true
	ex.summary = raw
	ex.maybeCompleteLocked()
	ex.mu.Unlock()

	return ex.engine.writeControl(&ControlFrame{
		Type:    FrameDone,
		ID:      ex.id,
		Summary: raw,
	})
}

// Fail ends the whole exchange immediately with a structured error,
// aborting the counterpart direction. Idempotent on terminal exchanges.
func (ex *Exchange) Fail(perr *protocol.Error) error {
	if !ex.failLocal(perr) {
		return nil
	}
	return ex.engine.writeControl(&ControlFrame{
		Type:  FrameFail,
		ID:    ex.id,
		Error: perr,
	})
}

// failLocal transitions to Failed without emitting a frame. Returns false if
// the exchange was already terminal.
func (ex *Exchange) failLocal(perr *protocol.Error) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.state != Open {
		return false
	}
	ex.state = Failed
	ex.failure = perr
	close(ex.done)
	return true
}

// inboundClosed reports whether the client direction has already signalled
// done.
func (ex *Exchange) inboundClosed() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.inDone
}

// finishInbound is called by the receive loop when the client direction
// reaches done.
func (ex *Exchange) finishInbound(summary json.RawMessage) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.state != Open || ex.inDone {
		return
	}
	ex.inDone = true
	ex.clientSummary = summary
	close(ex.inbound)
	ex.maybeCompleteLocked()
}

// maybeCompleteLocked transitions to Completed once every enabled direction
// has reached done. The server side must always signal Done, even on
// inbound-only exchanges, because its done carries the completion summary.
// Caller holds ex.mu.
func (ex *Exchange) maybeCompleteLocked() {
	if ex.state != Open {
		return
	}
	if ex.dir&Inbound != 0 && !ex.inDone {
		return
	}
	if !ex.outDone {
		return
	}
	ex.state = Completed
	close(ex.done)
}

// ClientSummary returns the summary the client attached to its done
// message, if any.
func (ex *Exchange) ClientSummary() json.RawMessage {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.clientSummary
}

// Wait blocks until the exchange reaches a terminal state. On Completed it
// returns the server-side summary; on Failed it returns the failure.
func (ex *Exchange) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ex.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.state == Failed {
		return nil, ex.failure
	}
	return ex.summary, nil
}
