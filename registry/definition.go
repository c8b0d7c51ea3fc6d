// Package registry holds the gateway's callable definitions: tools, prompts,
// and resources, each with capability flags that decide which transports may
// see and call them. The registry itself is a copy-on-write snapshot so the
// hot read path never blocks a writer.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/eyjolfurgudnivatne/mcp-gateway/schema"
	"github.com/eyjolfurgudnivatne/mcp-gateway/stream"
)

// Capability flags of a definition.
type Capability uint8

const (
	// Standard marks a plain request/response callable, reachable on every
	// transport.
	Standard Capability = 1 << iota
	// BinaryStreaming marks a callable that streams binary payloads.
	BinaryStreaming
	// TextStreaming marks a callable that streams text payloads.
	TextStreaming
	// Duplex marks a callable that needs a persistent duplex connection.
	// Requires at least one of BinaryStreaming or TextStreaming; enforced at
	// registration time, never per call.
	Duplex
)

// Has reports whether all flags in mask are set.
func (c Capability) Has(mask Capability) bool { return c&mask == mask }

// Kind is the category of a definition, used for list routing and for the
// notification-capability handshake.
type Kind int

const (
	KindTool Kind = iota
	KindPrompt
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindPrompt:
		return "prompt"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Outcome is the delayed result of an async handler.
type Outcome struct {
	Value any
	Err   error
}

// Handler shapes. Exactly one is set per definition; the dispatcher selects
// on the populated field instead of inspecting types at call time.
type (
	// SyncFunc produces its result before returning.
	SyncFunc func(ctx context.Context, args json.RawMessage) (any, error)
	// AsyncFunc returns immediately; the single result arrives on the
	// channel later. The dispatcher awaits the channel before responding,
	// so the shape changes how a handler is written, not when its caller
	// sees the result.
	AsyncFunc func(ctx context.Context, args json.RawMessage) <-chan Outcome
	// SequenceFunc yields a stream of results. Each element becomes one
	// response frame reusing the originating request's identifier.
	SequenceFunc func(ctx context.Context, args json.RawMessage) iter.Seq2[any, error]
	// ConnectorFunc takes over a duplex exchange on a persistent
	// connection. It must finish its side with Exchange.Done or Fail.
	ConnectorFunc func(ctx context.Context, args json.RawMessage, ex *stream.Exchange) error
)

// Handler is the tagged union of the four callable shapes.
type Handler struct {
	Sync      SyncFunc
	Async     AsyncFunc
	Sequence  SequenceFunc
	Connector ConnectorFunc
}

func (h Handler) validate() error {
	n := 0
	if h.Sync != nil {
		n++
	}
	if h.Async != nil {
		n++
	}
	if h.Sequence != nil {
		n++
	}
	if h.Connector != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("registry: handler must have exactly one shape, got %d", n)
	}
	return nil
}

// Definition is one registered callable. The name is its stable identity and
// routing key.
type Definition struct {
	Name         string
	Title        string
	Description  string
	Kind         Kind
	Capabilities Capability
	InputSchema  *schema.Schema
	Handler      Handler

	// StreamKind and StreamDirection shape the duplex exchange opened for
	// Connector handlers.
	StreamKind      stream.Kind
	StreamDirection stream.Direction
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("registry: definition needs a name")
	}
	if err := d.Handler.validate(); err != nil {
		return fmt.Errorf("%w (definition %q)", err, d.Name)
	}
	if d.Capabilities.Has(Duplex) && d.Capabilities&(BinaryStreaming|TextStreaming) == 0 {
		return fmt.Errorf("registry: definition %q requires a duplex connection but declares no streaming capability", d.Name)
	}
	if d.Handler.Connector != nil && !d.Capabilities.Has(Duplex) {
		return fmt.Errorf("registry: definition %q has a connector handler but no Duplex capability", d.Name)
	}
	if d.Handler.Sequence != nil && d.Capabilities&(BinaryStreaming|TextStreaming) == 0 {
		return fmt.Errorf("registry: definition %q streams its results but declares no streaming capability", d.Name)
	}
	return nil
}
