package gateway

import (
	"context"
	"encoding/json"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
	"github.com/eyjolfurgudnivatne/mcp-gateway/transport"
)

// route maps the protocol method surface onto the registry and dispatcher.
// It runs at the bottom of the middleware pipeline.
func (s *Server) route(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(ctx, req)
	case protocol.MethodInitialized:
		// Handshake acknowledgment; nothing to do.
		return &dispatch.Result{}
	case protocol.MethodPing:
		return s.handlePing(req)
	case protocol.MethodToolsList:
		return s.handleList(t, req, registry.KindTool)
	case protocol.MethodPromptsList:
		return s.handleList(t, req, registry.KindPrompt)
	case protocol.MethodResourcesList:
		return s.handleList(t, req, registry.KindResource)
	case protocol.MethodToolsCall:
		return s.handleCall(ctx, t, req, registry.KindTool, emit)
	case protocol.MethodPromptsGet:
		return s.handleCall(ctx, t, req, registry.KindPrompt, emit)
	case protocol.MethodResourcesRead:
		return s.handleRead(ctx, t, req, emit)
	default:
		return s.reject(req, protocol.NewMethodNotFound("method not found: "+req.Method))
	}
}

// handleInitialize answers the handshake with the protocol version, server
// identity, and the notification topics backed by at least one registered
// definition at this moment. The topic set is computed per handshake, not at
// startup, so dynamic registrations made before the handshake count.
//
// When the connection has a server-to-client channel, it is subscribed to
// list-changed broadcasts as a side effect.
func (s *Server) handleInitialize(ctx context.Context, req *protocol.Request) *dispatch.Result {
	snap := s.reg.Snapshot()

	capabilities := make(map[string]any)
	if snap.HasKind(registry.KindTool) {
		capabilities["tools"] = map[string]any{"listChanged": true}
	}
	if snap.HasKind(registry.KindPrompt) {
		capabilities["prompts"] = map[string]any{"listChanged": true}
	}
	if snap.HasKind(registry.KindResource) {
		capabilities["resources"] = map[string]any{"listChanged": true}
	}

	if sender := transport.NotificationSenderFromContext(ctx); sender != nil {
		s.Subscribe(sender)
	}

	result := map[string]any{
		"protocolVersion": protocol.ProtocolVersion,
		"serverInfo": map[string]any{
			"name":    s.info.Name,
			"version": s.info.Version,
		},
		"capabilities": capabilities,
	}

	if req.IsNotification() {
		return &dispatch.Result{}
	}
	return &dispatch.Result{Response: protocol.NewResponse(req.ID, result)}
}

func (s *Server) handlePing(req *protocol.Request) *dispatch.Result {
	if req.IsNotification() {
		return &dispatch.Result{}
	}
	return &dispatch.Result{Response: protocol.NewResponse(req.ID, map[string]any{})}
}

// handleList enumerates the definitions of one category visible on the
// calling transport. Hidden definitions are indistinguishable from absent
// ones here, matching the call-time behavior.
func (s *Server) handleList(t registry.Transport, req *protocol.Request, kind registry.Kind) *dispatch.Result {
	defs := s.reg.Snapshot().VisibleKind(t, kind)

	items := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		item := map[string]any{"name": d.Name}
		if d.Title != "" {
			item["title"] = d.Title
		}
		if d.Description != "" {
			item["description"] = d.Description
		}
		if kind == registry.KindTool && d.InputSchema != nil {
			item["inputSchema"] = d.InputSchema
		}
		items = append(items, item)
	}

	var result map[string]any
	switch kind {
	case registry.KindTool:
		result = map[string]any{"tools": items}
	case registry.KindPrompt:
		result = map[string]any{"prompts": items}
	default:
		result = map[string]any{"resources": items}
	}

	if req.IsNotification() {
		return &dispatch.Result{}
	}
	return &dispatch.Result{Response: protocol.NewResponse(req.ID, result)}
}

// handleCall parses the name/arguments envelope and delegates to the
// dispatcher, which applies visibility, validation, and handler shape.
func (s *Server) handleCall(ctx context.Context, t registry.Transport, req *protocol.Request, kind registry.Kind, emit dispatch.Emitter) *dispatch.Result {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.reject(req, protocol.NewInvalidParams(err.Error()))
	}
	if params.Name == "" {
		return s.reject(req, protocol.NewInvalidParams(`missing "name"`))
	}

	return s.disp.Call(ctx, req, t, kind, params.Name, params.Arguments, emit)
}

// handleRead is handleCall for resources, whose wire envelope names the
// definition by URI.
func (s *Server) handleRead(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
	var params struct {
		URI       string          `json:"uri"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.reject(req, protocol.NewInvalidParams(err.Error()))
	}
	if params.URI == "" {
		return s.reject(req, protocol.NewInvalidParams(`missing "uri"`))
	}

	return s.disp.Call(ctx, req, t, registry.KindResource, params.URI, params.Arguments, emit)
}

// reject drops failed notifications and answers failed requests.
func (s *Server) reject(req *protocol.Request, perr *protocol.Error) *dispatch.Result {
	if req.IsNotification() {
		return &dispatch.Result{}
	}
	return &dispatch.Result{Response: protocol.NewErrorResponse(req.ID, perr)}
}
