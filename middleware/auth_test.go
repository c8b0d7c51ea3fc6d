package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/eyjolfurgudnivatne/mcp-gateway/protocol"
	"github.com/eyjolfurgudnivatne/mcp-gateway/registry"
)

func allowAll(id *Identity) Authenticator {
	return func(context.Context, *protocol.Request) (*Identity, error) {
		return id, nil
	}
}

func denyAll() Authenticator {
	return func(context.Context, *protocol.Request) (*Identity, error) {
		return nil, nil
	}
}

func TestAuth_RejectsWithoutIdentity(t *testing.T) {
	handler := Auth(denyAll())(okHandler(nil))

	res := handler(context.Background(), registry.TransportHTTP, newRequest("1", "tools/call"), noEmit(t))
	if res.Response == nil || res.Response.Error == nil {
		t.Fatal("expected error response")
	}
	if res.Response.Error.Code != protocol.CodeUnauthorized {
		t.Errorf("expected code %d, got %d", protocol.CodeUnauthorized, res.Response.Error.Code)
	}
}

func TestAuth_SkipsHandshakeMethods(t *testing.T) {
	handler := Auth(denyAll())(okHandler(nil))

	for _, method := range []string{protocol.MethodInitialize, protocol.MethodPing} {
		t.Run(method, func(t *testing.T) {
			res := handler(context.Background(), registry.TransportHTTP, newRequest("1", method), noEmit(t))
			if res.Response == nil || res.Response.Error != nil {
				t.Fatalf("%s must bypass auth, got %+v", method, res)
			}
		})
	}
}

func TestAuth_SkipMethodsOption(t *testing.T) {
	handler := Auth(denyAll(), WithAuthSkipMethods("tools/list"))(okHandler(nil))

	res := handler(context.Background(), registry.TransportHTTP, newRequest("1", "tools/list"), noEmit(t))
	if res.Response.Error != nil {
		t.Fatalf("skipped method must bypass auth, got %+v", res.Response.Error)
	}
}

func TestAuth_IdentityReachesHandler(t *testing.T) {
	want := &Identity{ID: "key-1", Name: "service-a"}
	var gotCtx context.Context

	handler := Auth(allowAll(want))(okHandler(&gotCtx))
	handler(context.Background(), registry.TransportHTTP, newRequest("1", "tools/call"), noEmit(t))

	got := IdentityFromContext(gotCtx)
	if got == nil || got.ID != "key-1" {
		t.Fatalf("expected identity in handler context, got %+v", got)
	}
}

func TestAuth_CustomErrorMessage(t *testing.T) {
	handler := Auth(denyAll(), WithAuthErrorMessage("no entry"))(okHandler(nil))

	res := handler(context.Background(), registry.TransportHTTP, newRequest("1", "tools/call"), noEmit(t))
	if res.Response.Error.Message != "no entry" {
		t.Errorf("expected custom message, got %q", res.Response.Error.Message)
	}
}

func TestAuthorize_DeniesWithForbidden(t *testing.T) {
	handler := Authorize(func(_ context.Context, _ *Identity, req *protocol.Request) error {
		if req.Method == "tools/call" {
			return errors.New("tool calls not allowed")
		}
		return nil
	})(okHandler(nil))

	res := handler(context.Background(), registry.TransportHTTP, newRequest("1", "tools/call"), noEmit(t))
	if res.Response.Error == nil || res.Response.Error.Code != protocol.CodeForbidden {
		t.Fatalf("expected code %d, got %+v", protocol.CodeForbidden, res.Response.Error)
	}

	res = handler(context.Background(), registry.TransportHTTP, newRequest("2", "tools/list"), noEmit(t))
	if res.Response.Error != nil {
		t.Fatalf("allowed method must pass, got %+v", res.Response.Error)
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	validate := StaticAPIKeys(map[string]*Identity{
		"secret": {ID: "client-1"},
	})
	auth := APIKeyAuthenticator("X-Api-Key", validate)

	t.Run("valid key", func(t *testing.T) {
		ctx := protocol.ContextWithRequestMeta(context.Background(), protocol.RequestMeta{"X-Api-Key": "secret"})
		id, err := auth(ctx, newRequest("1", "tools/call"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id == nil || id.ID != "client-1" {
			t.Fatalf("expected client-1, got %+v", id)
		}
	})

	t.Run("lowercase header", func(t *testing.T) {
		ctx := protocol.ContextWithRequestMeta(context.Background(), protocol.RequestMeta{"x-api-key": "secret"})
		id, _ := auth(ctx, newRequest("1", "tools/call"))
		if id == nil {
			t.Fatal("expected lowercase header fallback to match")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		ctx := protocol.ContextWithRequestMeta(context.Background(), protocol.RequestMeta{"X-Api-Key": "wrong"})
		id, _ := auth(ctx, newRequest("1", "tools/call"))
		if id != nil {
			t.Fatalf("expected nil identity, got %+v", id)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		id, _ := auth(context.Background(), newRequest("1", "tools/call"))
		if id != nil {
			t.Fatalf("expected nil identity, got %+v", id)
		}
	})
}

func TestBearerTokenAuthenticator(t *testing.T) {
	auth := BearerTokenAuthenticator(func(token string) *Identity {
		if token == "tok" {
			return &Identity{ID: "bearer-1"}
		}
		return nil
	})

	tests := []struct {
		name   string
		header string
		wantID string
	}{
		{"valid token", "Bearer tok", "bearer-1"},
		{"wrong token", "Bearer nope", ""},
		{"missing prefix", "tok", ""},
		{"empty token", "Bearer ", ""},
		{"no header", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.header != "" {
				ctx = protocol.ContextWithRequestMeta(ctx, protocol.RequestMeta{"Authorization": tt.header})
			}
			id, err := auth(ctx, newRequest("1", "tools/call"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantID == "" {
				if id != nil {
					t.Fatalf("expected nil identity, got %+v", id)
				}
				return
			}
			if id == nil || id.ID != tt.wantID {
				t.Fatalf("expected %q, got %+v", tt.wantID, id)
			}
		})
	}
}

func TestChainAuthenticators(t *testing.T) {
	first := denyAll()
	second := allowAll(&Identity{ID: "from-second"})

	id, err := ChainAuthenticators(first, second)(context.Background(), newRequest("1", "tools/call"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil || id.ID != "from-second" {
		t.Fatalf("expected identity from second authenticator, got %+v", id)
	}

	failing := func(context.Context, *protocol.Request) (*Identity, error) {
		return nil, errors.New("backend down")
	}
	if _, err := ChainAuthenticators(failing, second)(context.Background(), newRequest("1", "tools/call")); err == nil {
		t.Fatal("expected error to stop the chain")
	}
}
