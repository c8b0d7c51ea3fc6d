package middleware

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

func newRequest(id, method string) *protocol.Request {
	req := &protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  method,
	}
	if id != "" {
		req.ID = json.RawMessage(`"` + id + `"`)
	}
	return req
}

func newNotification(method string) *protocol.Request {
	return newRequest("", method)
}

// okHandler responds with an empty result and records the context it ran with.
func okHandler(gotCtx *context.Context) HandlerFunc {
	return func(ctx context.Context, _ registry.Transport, req *protocol.Request, _ dispatch.Emitter) *dispatch.Result {
		if gotCtx != nil {
			*gotCtx = ctx
		}
		if req.IsNotification() {
			return &dispatch.Result{}
		}
		return &dispatch.Result{Response: protocol.NewResponse(req.ID, map[string]any{})}
	}
}

func noEmit(t *testing.T) dispatch.Emitter {
	t.Helper()
	return func(*protocol.Response) error {
		t.Fatal("unexpected emit")
		return nil
	}
}

func tagging(tag string, order *[]string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, t registry.Transport, req *protocol.Request, emit dispatch.Emitter) *dispatch.Result {
			*order = append(*order, tag+":before")
			res := next(ctx, t, req, emit)
			*order = append(*order, tag+":after")
			return res
		}
	}
}

func TestChain_Order(t *testing.T) {
	var order []string

	handler := Chain(
		tagging("outer", &order),
		tagging("inner", &order),
	)(okHandler(nil))

	res := handler(context.Background(), registry.TransportHTTP, newRequest("1", "ping"), noEmit(t))
	if res.Response == nil || res.Response.Error != nil {
		t.Fatalf("expected success response, got %+v", res)
	}

	want := []string{"outer:before", "inner:before", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), order)
	}
	for i, tag := range want {
		if order[i] != tag {
			t.Errorf("order[%d] = %q, want %q", i, order[i], tag)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	handler := Chain()(okHandler(nil))
	res := handler(context.Background(), registry.TransportHTTP, newRequest("1", "ping"), noEmit(t))
	if res.Response == nil {
		t.Fatal("expected response from bare handler")
	}
}

func TestUse_AppendThen(t *testing.T) {
	var order []string

	handler := Use(tagging("first", &order)).
		Append(tagging("second", &order), tagging("third", &order)).
		Then(okHandler(nil))

	handler(context.Background(), registry.TransportPipe, newRequest("1", "ping"), noEmit(t))

	if len(order) != 6 {
		t.Fatalf("expected 6 entries, got %v", order)
	}
	if order[0] != "first:before" || order[2] != "third:before" {
		t.Errorf("unexpected ordering: %v", order)
	}
}

func TestErrorResult_NotificationDropsError(t *testing.T) {
	res := errorResult(newNotification("notifications/flaky"), protocol.NewInternalError("boom"))
	if res.Response != nil {
		t.Fatalf("notification short-circuit must not carry a response, got %+v", res.Response)
	}

	res = errorResult(newRequest("7", "tools/call"), protocol.NewInternalError("boom"))
	if res.Response == nil || res.Response.Error == nil {
		t.Fatal("request short-circuit must carry an error response")
	}
	if string(res.Response.ID) != `"7"` {
		t.Errorf("expected id %q preserved, got %s", "7", res.Response.ID)
	}
}
