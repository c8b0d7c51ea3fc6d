package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

func runStdio(t *testing.T, input string, handler Handler) string {
	t.Helper()

	var out bytes.Buffer
	s := NewStdio(
		WithStdin(strings.NewReader(input)),
		WithStdout(&out),
		WithStderr(&bytes.Buffer{}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Serve(ctx, handler); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	return out.String()
}

func TestStdio_RequestResponse(t *testing.T) {
	out := runStdio(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n", echoHandler())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), out)
	}

	var resp protocol.Response
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(resp.ID) != `1` {
		t.Errorf("id = %s, want 1", resp.ID)
	}
}

func TestStdio_OneMessagePerLine(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"a"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"b"}` + "\n"
	out := runStdio(t, input, echoHandler())

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out)
	}
	for i, want := range []string{`"method":"a"`, `"method":"b"`} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}

func TestStdio_ParseErrorStaysOnOneLine(t *testing.T) {
	out := runStdio(t, "{broken\n", echoHandler())

	if !strings.Contains(out, `-32700`) {
		t.Errorf("expected parse error line, got %q", out)
	}
}

func TestStdio_NotificationProducesNoOutput(t *testing.T) {
	out := runStdio(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n", echoHandler())

	if strings.TrimSpace(out) != "" {
		t.Errorf("notification produced output: %q", out)
	}
}

func TestStdio_ReportsPipeTransport(t *testing.T) {
	var seen registry.Transport
	handler := HandlerFunc(func(_ context.Context, tr registry.Transport, req *protocol.Request, _ dispatch.Emitter) *dispatch.Result {
		seen = tr
		return &dispatch.Result{Response: protocol.NewResponse(req.ID, "ok")}
	})

	runStdio(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n", handler)

	if seen != registry.TransportPipe {
		t.Errorf("transport = %q, want %q", seen, registry.TransportPipe)
	}
}

func TestStdio_SendNotification(t *testing.T) {
	var out bytes.Buffer
	s := NewStdio(WithStdin(strings.NewReader("")), WithStdout(&out))

	if err := s.SendNotification(protocol.MethodToolListChanged, nil); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	var notif Notification
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &notif); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if notif.Method != protocol.MethodToolListChanged {
		t.Errorf("method = %q", notif.Method)
	}
	if notif.JSONRPC != protocol.JSONRPCVersion {
		t.Errorf("jsonrpc = %q", notif.JSONRPC)
	}
}
