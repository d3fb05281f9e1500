package gateway

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"safehands/core"
	"safehands/crypto"
	"safehands/storage"
)

func newGatewayFixture(t *testing.T, opts Options) (*Server, crypto.Address, crypto.Address) {
	t.Helper()
	node := core.NewNode(storage.NewMemDB())
	node.SetNowFunc(func() int64 { return 1_700_000_000 })

	clientKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	freelancerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate freelancer key: %v", err)
	}
	client := clientKey.PubKey().Address()
	freelancer := freelancerKey.PubKey().Address()

	if err := node.ApplyGenesis([]core.GenesisAlloc{
		{Address: client.Raw(), Asset: "XLM", Amount: big.NewInt(5_000)},
	}); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	if _, err := node.EscrowDeposit(client.Raw(), freelancer.Raw(), [20]byte{}, "XLM", big.NewInt(1_000), 7); err != nil {
		t.Fatalf("seed escrow: %v", err)
	}
	return NewServer(node, opts), client, freelancer
}

func TestGetEscrowByID(t *testing.T) {
	server, client, freelancer := newGatewayFixture(t, Options{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/escrows/1", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", recorder.Code, recorder.Body.String())
	}
	var view escrowView
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.ID != 1 || view.State != "funded" || view.Amount != "1000" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Client != client.String() || view.Freelancer != freelancer.String() {
		t.Fatalf("party mismatch: %+v", view)
	}
	if view.Arbiter != client.String() {
		t.Fatalf("expected arbiter to default to client, got %s", view.Arbiter)
	}
}

func TestGetEscrowUnknownID(t *testing.T) {
	server, _, _ := newGatewayFixture(t, Options{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/escrows/99", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", recorder.Code)
	}
}

func TestGetEscrowMalformedID(t *testing.T) {
	server, _, _ := newGatewayFixture(t, Options{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/escrows/abc", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", recorder.Code)
	}
}

func TestListPartyEscrows(t *testing.T) {
	server, client, _ := newGatewayFixture(t, Options{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/parties/"+client.String()+"/escrows", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", recorder.Code)
	}
	var views []escrowView
	if err := json.Unmarshal(recorder.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode views: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 escrow got %d", len(views))
	}
}

func TestListPartyEscrowsBadAddress(t *testing.T) {
	server, _, _ := newGatewayFixture(t, Options{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/parties/not-bech32/escrows", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", recorder.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newGatewayFixture(t, Options{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", recorder.Code)
	}
	if recorder.Body.String() != "ok" {
		t.Fatalf("expected ok got %q", recorder.Body.String())
	}
}

func TestRequestIDAssigned(t *testing.T) {
	server, _, _ := newGatewayFixture(t, Options{})
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	recorder = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	server.Handler().ServeHTTP(recorder, req)
	if got := recorder.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("expected caller id echoed, got %q", got)
	}
}

func TestJWTGuardsV1Routes(t *testing.T) {
	const secret = "gateway-test-secret"
	server, _, _ := newGatewayFixture(t, Options{JWTSecret: secret})

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/escrows/1", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", recorder.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "reader",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	recorder = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/escrows/1", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with token got %d", recorder.Code)
	}

	badToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "reader"})
	badSigned, err := badToken.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/escrows/1", nil)
	req.Header.Set("Authorization", "Bearer "+badSigned)
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong signature got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("health should remain open, got %d", recorder.Code)
	}
}
