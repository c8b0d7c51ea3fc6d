package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
	"github.com/eyjolfurgudnivatne/mcp-gateway/stream"
)

type echoInput struct {
	Message string `json:"message" jsonschema:"required"`
}

func newEchoRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	_, err := r.Tool("echo").Input(echoInput{}).Sync(func(_ context.Context, args json.RawMessage) (any, error) {
		var in echoInput
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return map[string]string{"message": in.Message}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func request(t *testing.T, id, method, params string) *protocol.Request {
	t.Helper()
	req := &protocol.Request{JSONRPC: "2.0", Method: method}
	if id != "" {
		req.ID = json.RawMessage(id)
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func noEmit(t *testing.T) Emitter {
	return func(resp *protocol.Response) error {
		t.Errorf("unexpected emitted frame: %+v", resp)
		return nil
	}
}

func TestCall_SyncEcho(t *testing.T) {
	d := New(newEchoRegistry(t))
	req := request(t, `"1"`, "tools/call", "")

	res := d.Call(context.Background(), req, registry.TransportHTTP, registry.KindTool, "echo", json.RawMessage(`{"message":"hi"}`), noEmit(t))

	if res.Response == nil || res.Response.Error != nil {
		t.Fatalf("expected success, got %+v", res.Response)
	}
	if string(res.Response.ID) != `"1"` {
		t.Errorf("response id = %s, want \"1\"", res.Response.ID)
	}
	got := res.Response.Result.(map[string]string)
	if got["message"] != "hi" {
		t.Errorf("result = %v", got)
	}
}

func TestCall_UnknownDefinition(t *testing.T) {
	d := New(newEchoRegistry(t))
	req := request(t, `"7"`, "tools/call", "")

	res := d.Call(context.Background(), req, registry.TransportHTTP, registry.KindTool, "does_not_exist", nil, noEmit(t))

	if res.Response == nil || res.Response.Error == nil {
		t.Fatal("expected error response")
	}
	if res.Response.Error.Code != protocol.CodeMethodNotFound {
		t.Errorf("code = %d, want %d", res.Response.Error.Code, protocol.CodeMethodNotFound)
	}
	if string(res.Response.ID) != `"7"` {
		t.Errorf("id = %s, want original id preserved", res.Response.ID)
	}
}

func TestCall_HiddenOnTransportIsDistinctMessage(t *testing.T) {
	r := registry.New()
	if _, err := r.Tool("upload").Connector(func(context.Context, json.RawMessage, *stream.Exchange) error {
		return nil
	}, stream.KindBinary, stream.Both); err != nil {
		t.Fatal(err)
	}
	d := New(r)

	hidden := d.Call(context.Background(), request(t, `1`, "tools/call", ""), registry.TransportHTTP, registry.KindTool, "upload", nil, noEmit(t))
	missing := d.Call(context.Background(), request(t, `1`, "tools/call", ""), registry.TransportHTTP, registry.KindTool, "nope", nil, noEmit(t))

	if hidden.Response.Error.Code != protocol.CodeMethodNotFound || missing.Response.Error.Code != protocol.CodeMethodNotFound {
		t.Fatal("both cases must use the method-not-found code")
	}
	if hidden.Response.Error.Message == missing.Response.Error.Message {
		t.Error("hidden-on-transport and does-not-exist must have distinct messages")
	}
}

func TestCall_MissingRequiredParams(t *testing.T) {
	called := false
	r := registry.New()
	_, err := r.Tool("echo").Input(echoInput{}).Sync(func(context.Context, json.RawMessage) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	d := New(r)

	res := d.Call(context.Background(), request(t, `1`, "tools/call", ""), registry.TransportHTTP, registry.KindTool, "echo", json.RawMessage(`{}`), noEmit(t))

	if res.Response.Error == nil || res.Response.Error.Code != protocol.CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", res.Response)
	}
	if called {
		t.Error("handler must not be invoked when required keys are missing")
	}
}

func TestCall_NotificationNeverEmits(t *testing.T) {
	r := registry.New()
	if _, err := r.Tool("boom").Sync(func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("handler exploded")
	}); err != nil {
		t.Fatal(err)
	}
	d := New(r)

	req := request(t, "", "tools/call", "")
	res := d.Call(context.Background(), req, registry.TransportHTTP, registry.KindTool, "boom", nil, noEmit(t))

	if res.Response != nil || res.Streamed || res.Handoff != nil {
		t.Errorf("notification produced output: %+v", res)
	}
}

func TestCall_NotificationUnknownMethodIsDropped(t *testing.T) {
	d := New(newEchoRegistry(t))
	req := request(t, "", "tools/call", "")

	res := d.Call(context.Background(), req, registry.TransportHTTP, registry.KindTool, "ghost", nil, noEmit(t))
	if res.Response != nil {
		t.Error("unknown method as notification must not produce a response")
	}
}

func TestCall_AsyncHandler(t *testing.T) {
	r := registry.New()
	_, err := r.Tool("later").Async(func(ctx context.Context, _ json.RawMessage) <-chan registry.Outcome {
		ch := make(chan registry.Outcome, 1)
		go func() { ch <- registry.Outcome{Value: "eventually"} }()
		return ch
	})
	if err != nil {
		t.Fatal(err)
	}
	d := New(r)

	res := d.Call(context.Background(), request(t, `2`, "tools/call", ""), registry.TransportHTTP, registry.KindTool, "later", nil, noEmit(t))
	if res.Response == nil || res.Response.Result != "eventually" {
		t.Errorf("async result = %+v", res.Response)
	}
}

func TestCall_SequenceEmitsFramesWithSameID(t *testing.T) {
	r := registry.New()
	_, err := r.Tool("count").Sequence(func(_ context.Context, _ json.RawMessage) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for i := 1; i <= 3; i++ {
				if !yield(i, nil) {
					return
				}
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	d := New(r)

	var frames []*protocol.Response
	emit := func(resp *protocol.Response) error {
		frames = append(frames, resp)
		return nil
	}

	res := d.Call(context.Background(), request(t, `"s1"`, "tools/call", ""), registry.TransportStreamHTTP, registry.KindTool, "count", nil, emit)
	if !res.Streamed {
		t.Fatal("expected streamed result")
	}
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 3 elements + terminal", len(frames))
	}
	for _, f := range frames {
		if string(f.ID) != `"s1"` {
			t.Errorf("frame id = %s, want \"s1\"", f.ID)
		}
	}
	terminal := frames[3].Result.(map[string]any)
	if terminal["complete"] != true || terminal["count"] != 3 {
		t.Errorf("terminal frame = %v", terminal)
	}
}

func TestCall_SequenceWithoutEmitterReportsInternalError(t *testing.T) {
	r := registry.New()
	_, err := r.Tool("count").Sequence(func(_ context.Context, _ json.RawMessage) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			yield(1, nil)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	d := New(r)

	res := d.Call(context.Background(), request(t, `1`, "tools/call", ""), registry.TransportStreamHTTP, registry.KindTool, "count", nil, nil)
	if res.Response == nil || res.Response.Error == nil {
		t.Fatalf("result = %+v, want error response", res)
	}
	if res.Response.Error.Code != protocol.CodeInternalError {
		t.Errorf("code = %d, want %d", res.Response.Error.Code, protocol.CodeInternalError)
	}
}

func TestCall_SequenceErrorIsTerminal(t *testing.T) {
	r := registry.New()
	_, err := r.Tool("flaky").Sequence(func(_ context.Context, _ json.RawMessage) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			if !yield("ok", nil) {
				return
			}
			yield(nil, fmt.Errorf("stream broke"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	d := New(r)

	var frames []*protocol.Response
	emit := func(resp *protocol.Response) error {
		frames = append(frames, resp)
		return nil
	}
	d.Call(context.Background(), request(t, `1`, "tools/call", ""), registry.TransportStreamHTTP, registry.KindTool, "flaky", nil, emit)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want element + error and nothing after", len(frames))
	}
	if frames[1].Error == nil || frames[1].Error.Code != protocol.CodeInternalError {
		t.Errorf("second frame = %+v, want internal error", frames[1])
	}
}

func TestCall_ConnectorHandsOff(t *testing.T) {
	r := registry.New()
	if _, err := r.Tool("pipe").Connector(func(context.Context, json.RawMessage, *stream.Exchange) error {
		return nil
	}, stream.KindText, stream.Both); err != nil {
		t.Fatal(err)
	}
	d := New(r)

	res := d.Call(context.Background(), request(t, `1`, "tools/call", ""), registry.TransportWebSocket, registry.KindTool, "pipe", json.RawMessage(`{}`), noEmit(t))
	if res.Handoff == nil {
		t.Fatal("expected duplex hand-off")
	}
	if res.Handoff.Definition.Name != "pipe" {
		t.Errorf("handoff definition = %q", res.Handoff.Definition.Name)
	}
}

func TestWireError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "protocol error passes through", err: protocol.NewForbidden("no scope"), wantCode: protocol.CodeForbidden},
		{name: "unauthorized passes through", err: protocol.NewUnauthorized("no token"), wantCode: protocol.CodeUnauthorized},
		{name: "invalid params passes through", err: protocol.NewInvalidParams("bad"), wantCode: protocol.CodeInvalidParams},
		{name: "plain error becomes internal", err: errors.New("boom"), wantCode: protocol.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := WireError(tt.err)
			if perr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", perr.Code, tt.wantCode)
			}
		})
	}

	t.Run("internal error carries cause in data", func(t *testing.T) {
		perr := WireError(errors.New("nil map write"))
		if perr.Data != "nil map write" {
			t.Errorf("data = %v, want cause text", perr.Data)
		}
	})
}
