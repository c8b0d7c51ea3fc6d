package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eyjolfurgudnivatne/mcp-gateway/dispatch"
	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

// echoHandler answers every request with its own method name.
func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, _ registry.Transport, req *protocol.Request, _ dispatch.Emitter) *dispatch.Result {
		if req.IsNotification() {
			return &dispatch.Result{}
		}
		return &dispatch.Result{Response: protocol.NewResponse(req.ID, map[string]string{"method": req.Method})}
	})
}

func postJSON(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNewHTTP(t *testing.T) {
	t.Run("creates http transport with address", func(t *testing.T) {
		tr := NewHTTP(":8080")

		if tr.Addr() != ":8080" {
			t.Errorf("Addr() = %q, want %q", tr.Addr(), ":8080")
		}
	})

	t.Run("applies options", func(t *testing.T) {
		tr := NewHTTP(":8080",
			WithReadTimeout(5*time.Second),
			WithWriteTimeout(10*time.Second),
			WithMaxBodyBytes(1024),
		)

		if tr.readTimeout != 5*time.Second {
			t.Errorf("readTimeout = %v, want %v", tr.readTimeout, 5*time.Second)
		}
		if tr.writeTimeout != 10*time.Second {
			t.Errorf("writeTimeout = %v, want %v", tr.writeTimeout, 10*time.Second)
		}
		if tr.maxBodyBytes != 1024 {
			t.Errorf("maxBodyBytes = %d, want 1024", tr.maxBodyBytes)
		}
	})
}

func TestHTTP_Handler(t *testing.T) {
	httpHandler := NewHTTP(":0").createHandler(echoHandler())

	t.Run("handles POST /mcp requests", func(t *testing.T) {
		rec := postJSON(httpHandler, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		body := rec.Body.String()
		if !strings.Contains(body, `"method":"ping"`) {
			t.Errorf("unexpected response: %q", body)
		}
	})

	t.Run("number and string ids round-trip untouched", func(t *testing.T) {
		for _, id := range []string{`1`, `"abc"`} {
			rec := postJSON(httpHandler, `{"jsonrpc":"2.0","id":`+id+`,"method":"ping"}`)

			var resp protocol.Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if string(resp.ID) != id {
				t.Errorf("id = %s, want %s", resp.ID, id)
			}
		}
	})

	t.Run("returns 405 for non-POST to /mcp", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
		rec := httptest.NewRecorder()

		httpHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("returns 415 for non-json content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("hello"))
		req.Header.Set("Content-Type", "text/plain")
		rec := httptest.NewRecorder()

		httpHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnsupportedMediaType)
		}
	})

	t.Run("malformed JSON rides 200 with a parse error body", func(t *testing.T) {
		rec := postJSON(httpHandler, `{invalid}`)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if !strings.Contains(rec.Body.String(), `-32700`) {
			t.Errorf("expected parse error in body, got %q", rec.Body.String())
		}
	})

	t.Run("batch arrays are rejected", func(t *testing.T) {
		rec := postJSON(httpHandler, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)

		if !strings.Contains(rec.Body.String(), `-32600`) {
			t.Errorf("expected invalid request in body, got %q", rec.Body.String())
		}
	})

	t.Run("notification gets 202 and no body", func(t *testing.T) {
		rec := postJSON(httpHandler, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

		if rec.Code != http.StatusAccepted {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("notification produced a body: %q", rec.Body.String())
		}
	})

	t.Run("handles /health endpoint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		httpHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
			t.Errorf("unexpected body: %q", rec.Body.String())
		}
	})
}

func TestHTTP_Draining(t *testing.T) {
	sm := NewShutdownManager()
	httpHandler := NewHTTP(":0", WithShutdownManager(sm)).createHandler(echoHandler())

	rec := postJSON(httpHandler, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status before drain = %d, want %d", rec.Code, http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rec = postJSON(httpHandler, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status while draining = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHTTP_Serve(t *testing.T) {
	tr := NewHTTP("127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Serve(ctx, echoHandler())
	}()

	time.Sleep(50 * time.Millisecond)

	addr := tr.ListenAddr()
	if addr == "" {
		t.Fatal("could not get listen address")
	}

	resp, err := http.Post("http://"+addr+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("server did not stop in time")
	}
}
