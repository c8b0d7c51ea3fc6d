package registry

import (
	"github.com/eyjolfurgudnivatne/mcp-gateway/schema"
	"github.com/eyjolfurgudnivatne/mcp-gateway/stream"
)

// Builder provides a fluent API for registering definitions. The terminal
// shape method (Sync, Async, Sequence, Connector) validates and registers.
type Builder struct {
	registry *Registry
	def      *Definition
}

// Tool starts building a tool definition.
func (r *Registry) Tool(name string) *Builder {
	return &Builder{registry: r, def: &Definition{Name: name, Kind: KindTool, Capabilities: Standard}}
}

// Prompt starts building a prompt definition.
func (r *Registry) Prompt(name string) *Builder {
	return &Builder{registry: r, def: &Definition{Name: name, Kind: KindPrompt, Capabilities: Standard}}
}

// Resource starts building a resource definition.
func (r *Registry) Resource(name string) *Builder {
	return &Builder{registry: r, def: &Definition{Name: name, Kind: KindResource, Capabilities: Standard}}
}

// Title sets the human-readable title.
func (b *Builder) Title(title string) *Builder {
	b.def.Title = title
	return b
}

// Description sets the description.
func (b *Builder) Description(desc string) *Builder {
	b.def.Description = desc
	return b
}

// Input derives the definition's input schema from a sample value's type.
func (b *Builder) Input(sample any) *Builder {
	b.def.InputSchema = schema.Generate(sample)
	return b
}

// Schema sets an author-supplied input schema.
func (b *Builder) Schema(s *schema.Schema) *Builder {
	b.def.InputSchema = s
	return b
}

// Sync registers a synchronous-value handler.
func (b *Builder) Sync(fn SyncFunc) (*Definition, error) {
	b.def.Handler = Handler{Sync: fn}
	return b.register()
}

// Async registers an asynchronous single-value handler.
func (b *Builder) Async(fn AsyncFunc) (*Definition, error) {
	b.def.Handler = Handler{Async: fn}
	return b.register()
}

// Sequence registers a streaming sequence handler. Sequence results stream
// as text frames, so the definition picks up the TextStreaming capability
// and disappears from transports that cannot stream.
func (b *Builder) Sequence(fn SequenceFunc) (*Definition, error) {
	b.def.Handler = Handler{Sequence: fn}
	b.def.Capabilities |= TextStreaming
	return b.register()
}

// Connector registers a duplex handler. The kind decides the payload frame
// encoding and the matching streaming capability; the direction decides
// which sides of the exchange carry payload.
func (b *Builder) Connector(fn ConnectorFunc, kind stream.Kind, dir stream.Direction) (*Definition, error) {
	b.def.Handler = Handler{Connector: fn}
	b.def.Capabilities |= Duplex
	if kind == stream.KindBinary {
		b.def.Capabilities |= BinaryStreaming
	} else {
		b.def.Capabilities |= TextStreaming
	}
	b.def.StreamKind = kind
	b.def.StreamDirection = dir
	return b.register()
}

func (b *Builder) register() (*Definition, error) {
	if err := b.registry.Register(b.def); err != nil {
		return nil, err
	}
	return b.def, nil
}
