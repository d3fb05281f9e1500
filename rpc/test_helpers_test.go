package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"safehands/core"
	"safehands/crypto"
	"safehands/storage"
)

const testAuthToken = "rpc-test-token"

type testEnv struct {
	server *Server
	node   *core.Node

	client     crypto.Address
	freelancer crypto.Address
	arbiter    crypto.Address
}

func newTestEnv(t *testing.T) *testEnv {
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
	arbiterKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate arbiter key: %v", err)
	}
	client := clientKey.PubKey().Address()
	if err := node.ApplyGenesis([]core.GenesisAlloc{
		{Address: client.Raw(), Asset: "XLM", Amount: big.NewInt(10_000)},
	}); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	server := NewServer(node)
	server.authToken = testAuthToken
	return &testEnv{
		server:     server,
		node:       node,
		client:     client,
		freelancer: freelancerKey.PubKey().Address(),
		arbiter:    arbiterKey.PubKey().Address(),
	}
}

func (env *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

func marshalParam(t *testing.T, value interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Result, resp.Error
}

func (env *testEnv) depositParams(amount string, deadlineDays uint64) map[string]interface{} {
	return map[string]interface{}{
		"client":       env.client.String(),
		"freelancer":   env.freelancer.String(),
		"arbiter":      env.arbiter.String(),
		"asset":        "XLM",
		"amount":       amount,
		"deadlineDays": deadlineDays,
	}
}

func (env *testEnv) mustDeposit(t *testing.T, amount string, deadlineDays uint64) escrowJSON {
	t.Helper()
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, env.depositParams(amount, deadlineDays))}}
	recorder := httptest.NewRecorder()
	env.server.handleEscrowDeposit(recorder, req)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("deposit failed: %+v", rpcErr)
	}
	var esc escrowJSON
	if err := json.Unmarshal(result, &esc); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	return esc
}
