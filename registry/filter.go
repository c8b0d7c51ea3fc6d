package registry

// Transport identifies which wire a request arrived on. Each transport has a
// fixed capability eligibility rule; hiding is enforced at listing time as
// well as call time so a hidden callable is never observable only when
// called.
type Transport string

const (
	// TransportHTTP is the plain one-POST-per-call transport.
	TransportHTTP Transport = "http"
	// TransportStreamHTTP is the unified session-based streaming transport.
	TransportStreamHTTP Transport = "streamhttp"
	// TransportWebSocket is the persistent full-duplex socket transport.
	TransportWebSocket Transport = "websocket"
	// TransportPipe is the line-oriented process-pipe transport.
	TransportPipe Transport = "pipe"
)

// admitted returns the capability mask a transport can serve.
func admitted(t Transport) Capability {
	switch t {
	case TransportWebSocket:
		return Standard | BinaryStreaming | TextStreaming | Duplex
	case TransportStreamHTTP:
		return Standard | TextStreaming
	default:
		// Plain HTTP and the process pipe carry single request/response
		// exchanges only.
		return Standard
	}
}

// Eligible reports whether a definition is reachable on the transport: every
// capability it declares must be admitted there.
func Eligible(t Transport, d *Definition) bool {
	return d.Capabilities&^admitted(t) == 0
}

// Visible returns the definitions of the snapshot reachable on the
// transport, sorted by name. Listing methods must enumerate exactly this.
func (s *Snapshot) Visible(t Transport) []*Definition {
	all := s.All()
	out := make([]*Definition, 0, len(all))
	for _, d := range all {
		if Eligible(t, d) {
			out = append(out, d)
		}
	}
	return out
}

// VisibleKind narrows Visible to one category.
func (s *Snapshot) VisibleKind(t Transport, k Kind) []*Definition {
	visible := s.Visible(t)
	out := make([]*Definition, 0, len(visible))
	for _, d := range visible {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}
