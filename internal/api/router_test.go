package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thanhnp/chain-bridge/internal/api/middleware"
	"github.com/thanhnp/chain-bridge/internal/bootstrap"
	"github.com/thanhnp/chain-bridge/internal/config"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/storage"
)

const (
	owner = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	alice = "0x0000000000000000000000000000000000000A11"
)

var validators = []string{
	"0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	"0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
	"0x90F79bf6EB2c4f870365E785982E1f101E93b906",
}

func newTestServer(t *testing.T) (*bootstrap.Network, *gin.Engine) {
	t.Helper()
	cfg := config.Default()
	n, err := bootstrap.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := bootstrap.Deploy(n, cfg.Genesis); err != nil {
		t.Fatal(err)
	}
	return n, NewRouter(n, nil, gin.TestMode).Engine()
}

func do(t *testing.T, engine *gin.Engine, method, path, principal string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set(middleware.PrincipalHeader, principal)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthAndVersion(t *testing.T) {
	_, engine := newTestServer(t)

	w := do(t, engine, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("no request id header")
	}

	w = do(t, engine, http.MethodGet, "/version", "", nil)
	var v map[string]any
	decode(t, w, &v)
	if v["schema_version"] != storage.SchemaVersion {
		t.Errorf("version = %v", v)
	}
}

func TestVersionReportsCheckpoint(t *testing.T) {
	db, err := storage.NewMemPebbleDB()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	stores := storage.NewNetworkStores(db)

	batch := db.NewBatch()
	if err := stores.Meta.PutSavedAtBatch(batch, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatal(err)
	}
	batch.Close()

	n, _ := newTestServer(t)
	engine := NewRouter(n, stores.Meta, gin.TestMode).Engine()
	w := do(t, engine, http.MethodGet, "/version", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("version = %d %s", w.Code, w.Body.String())
	}
	var v map[string]any
	decode(t, w, &v)
	if _, ok := v["saved_at"]; !ok {
		t.Errorf("version = %v, want saved_at", v)
	}
}

func TestChainRoutes(t *testing.T) {
	_, engine := newTestServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "list", path: "/api/v1/chains", want: http.StatusOK},
		{name: "one", path: "/api/v1/chains/137", want: http.StatusOK},
		{name: "not numeric", path: "/api/v1/chains/eth", want: http.StatusBadRequest},
		{name: "unknown", path: "/api/v1/chains/999", want: http.StatusNotFound},
		{name: "genesis block", path: "/api/v1/chains/1/blocks/0", want: http.StatusOK},
		{name: "missing block", path: "/api/v1/chains/1/blocks/7", want: http.StatusNotFound},
		{name: "bad block number", path: "/api/v1/chains/1/blocks/x", want: http.StatusBadRequest},
		{name: "latest", path: "/api/v1/chains/1/blocks/latest", want: http.StatusOK},
		{name: "blocks", path: "/api/v1/chains/1/blocks?from=0", want: http.StatusOK},
		{name: "bad limit", path: "/api/v1/chains/1/blocks?limit=0", want: http.StatusBadRequest},
		{name: "pending", path: "/api/v1/chains/1/pending", want: http.StatusOK},
		{name: "validators", path: "/api/v1/chains/1/validators", want: http.StatusOK},
		{name: "account", path: "/api/v1/chains/1/accounts/" + owner, want: http.StatusOK},
		{name: "bad account", path: "/api/v1/chains/1/accounts/bob", want: http.StatusBadRequest},
		{name: "validator list", path: "/api/v1/validators", want: http.StatusOK},
		{name: "validator", path: "/api/v1/validators/" + validators[0], want: http.StatusOK},
		{name: "unknown validator", path: "/api/v1/validators/" + alice, want: http.StatusNotFound},
		{name: "transfers", path: "/api/v1/bridge/transfers", want: http.StatusOK},
		{name: "bad status", path: "/api/v1/bridge/transfers?status=lost", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, engine, http.MethodGet, tt.path, "", nil)
			if w.Code != tt.want {
				t.Errorf("GET %s = %d, want %d: %s", tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := do(t, engine, http.MethodGet, "/api/v1/chains", "", nil)
	var list struct {
		Count  int `json:"count"`
		Chains []struct {
			Chain        models.ChainID            `json:"chain"`
			Registration *models.ChainRegistration `json:"registration"`
		} `json:"chains"`
	}
	decode(t, w, &list)
	if list.Count != 5 || list.Chains[0].Chain != 1 || list.Chains[0].Registration == nil {
		t.Errorf("chains = %+v", list)
	}
}

func TestPrincipalRequired(t *testing.T) {
	_, engine := newTestServer(t)
	body := map[string]string{"to": alice, "amount": "1"}

	if w := do(t, engine, http.MethodPost, "/api/v1/chains/1/transfer", "", body); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous transfer = %d", w.Code)
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/chains/1/transfer", "root", body); w.Code != http.StatusBadRequest {
		t.Errorf("malformed principal = %d", w.Code)
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/chains/1/transfer", alice, body); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("overdraft = %d", w.Code)
	}
}

func TestPoolAndBlockFlow(t *testing.T) {
	n, engine := newTestServer(t)

	w := do(t, engine, http.MethodPost, "/api/v1/chains/137/transactions", owner,
		map[string]string{"to": alice, "tokens": "2.5"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create tx = %d %s", w.Code, w.Body.String())
	}
	var created struct {
		Hash string `json:"hash"`
	}
	decode(t, w, &created)

	submit := map[string]any{"payload": "batch-1", "transactions": []string{created.Hash}}
	if w := do(t, engine, http.MethodPost, "/api/v1/chains/137/blocks", alice, submit); w.Code != http.StatusForbidden {
		t.Errorf("submit by non-validator = %d", w.Code)
	}
	w = do(t, engine, http.MethodPost, "/api/v1/chains/137/blocks", validators[0], submit)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d %s", w.Code, w.Body.String())
	}
	var res models.SubmitResult
	decode(t, w, &res)
	if res.Block.Number != 1 || len(res.Applied) != 1 {
		t.Errorf("submit result = %+v", res)
	}

	w = do(t, engine, http.MethodGet, "/api/v1/chains/137/accounts/"+alice, "", nil)
	var acct map[string]any
	decode(t, w, &acct)
	if acct["tokens"] != "2.5" {
		t.Errorf("alice = %v", acct)
	}

	w = do(t, engine, http.MethodGet, "/api/v1/chains/137/blocks/hash/"+res.Block.Hash, "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("block by hash = %d", w.Code)
	}
	unknown := strings.Repeat("ab", 32)
	if w := do(t, engine, http.MethodGet, "/api/v1/chains/137/blocks/hash/"+unknown, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown block hash = %d", w.Code)
	}
	w = do(t, engine, http.MethodGet, "/api/v1/chains/137/blocks/1/verify", "", nil)
	var verify map[string]any
	decode(t, w, &verify)
	if verify["valid"] != true {
		t.Errorf("verify = %v", verify)
	}

	w = do(t, engine, http.MethodPost, "/api/v1/chains/137/blocks/1/attest", validators[1], nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("attest = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/chains/137/blocks/1/attest", validators[1], nil); w.Code != http.StatusConflict {
		t.Errorf("second attest = %d", w.Code)
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/chains/137/blocks/99/attest", validators[1], nil); w.Code != http.StatusNotFound {
		t.Errorf("attest ahead of the chain = %d", w.Code)
	}
	if w := do(t, engine, http.MethodGet, "/api/v1/chains/137/blocks/99/validations/"+validators[1], "", nil); w.Code != http.StatusNotFound {
		t.Errorf("validation of a future block = %d", w.Code)
	}
	w = do(t, engine, http.MethodGet, "/api/v1/chains/137/blocks/1/validations/"+validators[1], "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("validation = %d", w.Code)
	}

	if err := n.Ledgers[137].CheckSupply(); err != nil {
		t.Error(err)
	}
}

func TestAllowanceFlow(t *testing.T) {
	_, engine := newTestServer(t)
	carol := "0x0000000000000000000000000000000000000C42"

	if w := do(t, engine, http.MethodPost, "/api/v1/chains/1/approve", owner,
		map[string]string{"spender": alice, "amount": "100"}); w.Code != http.StatusOK {
		t.Fatalf("approve = %d %s", w.Code, w.Body.String())
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/chains/1/transfer-from", alice,
		map[string]string{"from": owner, "to": carol, "amount": "101"}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("over allowance = %d", w.Code)
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/chains/1/transfer-from", alice,
		map[string]string{"from": owner, "to": carol, "amount": "60"}); w.Code != http.StatusOK {
		t.Fatalf("transfer-from = %d %s", w.Code, w.Body.String())
	}

	w := do(t, engine, http.MethodGet, "/api/v1/chains/1/accounts/"+owner+"/allowances/"+alice, "", nil)
	var allowance models.Allowance
	decode(t, w, &allowance)
	if allowance.Amount != "40" {
		t.Errorf("allowance = %+v", allowance)
	}
}

func TestBridgeFlow(t *testing.T) {
	n, engine := newTestServer(t)

	initiate := map[string]any{
		"source_chain": 1,
		"dest_chain":   137,
		"recipient":    alice,
		"tokens":       "10",
	}
	w := do(t, engine, http.MethodPost, "/api/v1/bridge/transfers", owner, initiate)
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate = %d %s", w.Code, w.Body.String())
	}
	var tr models.Transfer
	decode(t, w, &tr)
	if tr.Status != models.TransferPending || tr.RequiredConfirmations != 3 {
		t.Fatalf("transfer = %+v", tr)
	}

	same := map[string]any{"source_chain": 1, "dest_chain": 1, "recipient": alice, "amount": "1"}
	if w := do(t, engine, http.MethodPost, "/api/v1/bridge/transfers", owner, same); w.Code != http.StatusBadRequest {
		t.Errorf("same chain = %d", w.Code)
	}

	confirm := "/api/v1/bridge/transfers/" + tr.Hash + "/confirm"
	if w := do(t, engine, http.MethodPost, confirm, alice, nil); w.Code != http.StatusForbidden {
		t.Errorf("confirm by stranger = %d", w.Code)
	}
	for i, v := range validators {
		w = do(t, engine, http.MethodPost, confirm, v, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("confirm %d = %d %s", i, w.Code, w.Body.String())
		}
		if i == 0 {
			if dup := do(t, engine, http.MethodPost, confirm, v, nil); dup.Code != http.StatusConflict {
				t.Errorf("duplicate confirm = %d", dup.Code)
			}
		}
	}
	decode(t, w, &tr)
	if tr.Status != models.TransferExecuted {
		t.Fatalf("status = %s", tr.Status)
	}

	if w := do(t, engine, http.MethodPost, "/api/v1/bridge/transfers/"+tr.Hash+"/cancel", owner, nil); w.Code != http.StatusConflict {
		t.Errorf("cancel executed = %d", w.Code)
	}

	w = do(t, engine, http.MethodGet, "/api/v1/bridge/transfers?status=executed", "", nil)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("executed transfers = %d", list.Count)
	}

	for _, l := range n.Ledgers {
		if err := l.CheckSupply(); err != nil {
			t.Error(err)
		}
	}
}

func TestCancelAndDeactivate(t *testing.T) {
	_, engine := newTestServer(t)

	w := do(t, engine, http.MethodPost, "/api/v1/bridge/transfers", owner,
		map[string]any{"source_chain": 56, "dest_chain": 10, "recipient": alice, "amount": "500"})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate = %d %s", w.Code, w.Body.String())
	}
	var tr models.Transfer
	decode(t, w, &tr)

	cancel := "/api/v1/bridge/transfers/" + tr.Hash + "/cancel"
	if w := do(t, engine, http.MethodPost, cancel, alice, nil); w.Code != http.StatusForbidden {
		t.Errorf("cancel by stranger = %d", w.Code)
	}
	w = do(t, engine, http.MethodPost, cancel, owner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel = %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &tr)
	if tr.Status != models.TransferFailed {
		t.Errorf("status = %s", tr.Status)
	}

	if w := do(t, engine, http.MethodPut, "/api/v1/chains/10/active", alice, map[string]bool{"active": false}); w.Code != http.StatusForbidden {
		t.Errorf("deactivate by stranger = %d", w.Code)
	}
	if w := do(t, engine, http.MethodPut, "/api/v1/chains/10/active", owner, map[string]bool{"active": false}); w.Code != http.StatusOK {
		t.Fatalf("deactivate = %d %s", w.Code, w.Body.String())
	}
	w = do(t, engine, http.MethodPost, "/api/v1/bridge/transfers", owner,
		map[string]any{"source_chain": 56, "dest_chain": 10, "recipient": alice, "amount": "1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("transfer to inactive chain = %d", w.Code)
	}
}

func TestStakeRoutes(t *testing.T) {
	_, engine := newTestServer(t)

	w := do(t, engine, http.MethodPost, "/api/v1/validators/stake", alice, map[string]string{"tokens": "12"})
	if w.Code != http.StatusOK {
		t.Fatalf("stake = %d %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["meets_min_stake"] != true {
		t.Errorf("stake response = %v", resp)
	}

	if w := do(t, engine, http.MethodPost, "/api/v1/validators/unstake", alice, map[string]string{"tokens": "13"}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("over-withdraw = %d", w.Code)
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/validators/unstake", alice, map[string]string{"amount": "0"}); w.Code != http.StatusBadRequest {
		t.Errorf("zero withdraw = %d", w.Code)
	}
	if w := do(t, engine, http.MethodPost, "/api/v1/validators/unstake", alice, map[string]string{"tokens": "12"}); w.Code != http.StatusOK {
		t.Errorf("withdraw = %d %s", w.Code, w.Body.String())
	}
}
