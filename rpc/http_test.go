package rpc

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func postJSON(t *testing.T, server *Server, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if mutate != nil {
		mutate(req)
	}
	recorder := httptest.NewRecorder()
	server.handle(recorder, req)
	return recorder
}

func TestHandleRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)
	recorder := postJSON(t, env.server, "   ", nil)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", rpcErr)
	}
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	recorder := postJSON(t, env.server, "{not json", nil)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", rpcErr)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	recorder := postJSON(t, env.server, `{"jsonrpc":"2.0","id":1,"method":"escrow_unknown"}`, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", recorder.Code)
	}
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", rpcErr)
	}
}

func TestHandleRejectsWrongJSONRPCVersion(t *testing.T) {
	env := newTestEnv(t)
	recorder := postJSON(t, env.server, `{"jsonrpc":"1.0","id":1,"method":"escrow_get"}`, nil)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", rpcErr)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	for _, method := range []string{"escrow_deposit", "escrow_approve", "escrow_cancel", "escrow_dispute", "escrow_resolve", "escrow_claimTimeout"} {
		body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":[{}]}`, method)
		recorder := postJSON(t, env.server, body, nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", method, recorder.Code)
		}
		_, rpcErr := decodeRPCResponse(t, recorder)
		if rpcErr == nil || rpcErr.Code != codeUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %+v", method, rpcErr)
		}
	}
}

func TestReadMethodsSkipAuth(t *testing.T) {
	env := newTestEnv(t)
	recorder := postJSON(t, env.server, `{"jsonrpc":"2.0","id":1,"method":"escrow_get","params":[{"id":1}]}`, nil)
	if recorder.Code == http.StatusUnauthorized {
		t.Fatalf("read method should not require auth")
	}
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeEscrowNotFound {
		t.Fatalf("expected not_found from empty store, got %+v", rpcErr)
	}
}

func TestAuthRejectsWrongToken(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"escrow_approve","params":[{}]}`
	recorder := postJSON(t, env.server, body, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong-token")
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", recorder.Code)
	}
}

func TestAuthRejectsNonBearerScheme(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"escrow_approve","params":[{}]}`
	recorder := postJSON(t, env.server, body, func(r *http.Request) {
		r.Header.Set("Authorization", "Basic "+testAuthToken)
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", recorder.Code)
	}
}

func TestAuthFailsClosedWithoutConfiguredToken(t *testing.T) {
	env := newTestEnv(t)
	env.server.authToken = ""
	body := `{"jsonrpc":"2.0","id":1,"method":"escrow_approve","params":[{}]}`
	recorder := postJSON(t, env.server, body, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer anything")
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", recorder.Code)
	}
}

func TestAllowSourceRateLimitsPerWindow(t *testing.T) {
	env := newTestEnv(t)
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < maxDepositsPerWindow; i++ {
		if !env.server.allowSource("10.0.0.1", now) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if env.server.allowSource("10.0.0.1", now) {
		t.Fatalf("request beyond limit should be rejected")
	}
	if !env.server.allowSource("10.0.0.2", now) {
		t.Fatalf("distinct source should not share the limiter")
	}
	if !env.server.allowSource("10.0.0.1", now.Add(rateLimitWindow)) {
		t.Fatalf("window expiry should reset the limiter")
	}
}

func TestDepositRateLimitedOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"escrow_deposit","params":[{}]}`
	var last *httptest.ResponseRecorder
	for i := 0; i < maxDepositsPerWindow+1; i++ {
		last = postJSON(t, env.server, body, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+testAuthToken)
			r.RemoteAddr = "192.0.2.7:51000"
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", last.Code)
	}
	_, rpcErr := decodeRPCResponse(t, last)
	if rpcErr == nil || rpcErr.Code != codeRateLimited {
		t.Fatalf("expected rate limited, got %+v", rpcErr)
	}
}
