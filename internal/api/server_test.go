package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"VaultChain/internal/auth"
	"VaultChain/internal/chain"
	"VaultChain/internal/events"
	"VaultChain/internal/extension"
	"VaultChain/internal/host"
	"VaultChain/internal/journal"
	"VaultChain/internal/token"
	"VaultChain/internal/vault"
)

type apiHarness struct {
	server *httptest.Server
	vault  *vault.Vault
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	router := host.NewRouter()
	asset := token.New("USD Coin", "USDC", 6)
	shares := token.New("Vault USDC", "vUSDC", 6)
	for _, tok := range []*token.Token{asset, shares} {
		if err := router.Register(tok.Address(), tok); err != nil {
			t.Fatalf("register token: %v", err)
		}
	}

	custody := vault.NewVault("main", asset, shares)
	if err := custody.Initialize(0); err != nil {
		t.Fatalf("initialize vault: %v", err)
	}
	router.Enroll(custody)

	checker := auth.NewMemoryChecker([]auth.Grant{
		{Identity: "alice", Capabilities: []auth.Capability{auth.CapabilityExecute}},
		{Identity: "operator", Capabilities: []auth.Capability{
			auth.CapabilityExecute, auth.CapabilitySettle, auth.CapabilityPause, auth.CapabilityAdminister,
		}},
	})
	registry := extension.NewRegistry(checker, router)
	producer := events.NewMemoryProducer(64)
	store := journal.NewMemoryStore()

	builder := chain.NewBuilder(registry)
	executor := chain.NewExecutor(router, auth.PermitAll{}, custody.Address())
	chains := chain.NewService(builder, executor, checker, store, producer)
	vaultSvc := vault.NewService(custody, checker, producer)

	// Seed alice's controller so deposits have something to escrow.
	if err := asset.Mint(vault.ControllerAddress("alice"), big.NewInt(10_000)); err != nil {
		t.Fatalf("fund controller: %v", err)
	}

	server := httptest.NewServer(NewServer(":0", chains, vaultSvc, registry, nil).Handler())
	t.Cleanup(server.Close)
	return &apiHarness{server: server, vault: custody}
}

func (h *apiHarness) do(t *testing.T, method, path, identity string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if identity != "" {
		req.Header.Set("X-Identity", identity)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func TestDepositLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t)

	status, _ := h.do(t, http.MethodPost, "/api/v1/vault/deposit-requests", "alice",
		map[string]string{"assets": "1000"})
	if status != http.StatusAccepted {
		t.Fatalf("request deposit status = %d", status)
	}

	status, body := h.do(t, http.MethodPost, "/api/v1/vault/deposits", "alice",
		map[string]string{"assets": "1000"})
	if status != http.StatusOK {
		t.Fatalf("deposit status = %d body = %v", status, body)
	}
	if body["shares"] != "1000" {
		t.Fatalf("minted shares = %v, want 1000", body["shares"])
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/vault", "", nil)
	if status != http.StatusOK {
		t.Fatalf("vault state status = %d", status)
	}
	if body["total_assets"] != "1000" || body["total_idle"] != "1000" {
		t.Fatalf("vault state = %v", body)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/vault/requests", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("requests status = %d", status)
	}
	if body["pending_deposit"] != "0" || body["claimable_deposit"] != "0" {
		t.Fatalf("requests after claim = %v", body)
	}
}

func TestRequestsEndpointNeedsIdentity(t *testing.T) {
	h := newAPIHarness(t)
	status, body := h.do(t, http.MethodGet, "/api/v1/vault/requests", "", nil)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d body = %v", status, body)
	}
	if body["code"] != string(auth.CodeMissingIdentity) {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestSettlementEndpointGating(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/v1/vault/deposit-requests", "alice", map[string]string{"assets": "1000"})
	h.do(t, http.MethodPost, "/api/v1/vault/deposits", "alice", map[string]string{"assets": "1000"})

	settle := map[string]any{
		"total": "1100",
		"breakdown": []map[string]string{
			{"strategy": "aave-v3", "value": "600"},
			{"strategy": "compound-v3", "value": "500"},
		},
	}

	status, body := h.do(t, http.MethodPost, "/api/v1/vault/settlements", "alice", settle)
	if status != http.StatusForbidden {
		t.Fatalf("settle as alice status = %d body = %v", status, body)
	}

	status, body = h.do(t, http.MethodPost, "/api/v1/vault/settlements", "operator", settle)
	if status != http.StatusOK {
		t.Fatalf("settle status = %d body = %v", status, body)
	}
	root, _ := body["merkle_root"].(string)
	if root == "" {
		t.Fatal("settlement must return the committed root")
	}

	// Verification against the stored root.
	status, body = h.do(t, http.MethodPost, "/api/v1/vault/verification", "", map[string]any{
		"breakdown": settle["breakdown"],
	})
	if status != http.StatusOK || body["valid"] != true {
		t.Fatalf("verify status = %d body = %v", status, body)
	}

	// A tampered breakdown must not verify.
	status, body = h.do(t, http.MethodPost, "/api/v1/vault/verification", "", map[string]any{
		"breakdown": []map[string]string{
			{"strategy": "aave-v3", "value": "601"},
			{"strategy": "compound-v3", "value": "499"},
		},
	})
	if status != http.StatusOK || body["valid"] != false {
		t.Fatalf("tampered verify status = %d body = %v", status, body)
	}
}

func TestPauseEndpointGating(t *testing.T) {
	h := newAPIHarness(t)

	status, _ := h.do(t, http.MethodPost, "/api/v1/vault/pause", "alice", nil)
	if status != http.StatusForbidden {
		t.Fatalf("pause as alice status = %d", status)
	}
	status, _ = h.do(t, http.MethodPost, "/api/v1/vault/pause", "operator", nil)
	if status != http.StatusOK {
		t.Fatalf("pause status = %d", status)
	}

	// Deposits are blocked while paused.
	status, body := h.do(t, http.MethodPost, "/api/v1/vault/deposit-requests", "alice",
		map[string]string{"assets": "100"})
	if status != http.StatusConflict {
		t.Fatalf("deposit while paused status = %d body = %v", status, body)
	}
	if body["code"] != string(vault.CodePaused) {
		t.Fatalf("code = %v", body["code"])
	}

	status, _ = h.do(t, http.MethodPost, "/api/v1/vault/unpause", "operator", nil)
	if status != http.StatusOK {
		t.Fatalf("unpause status = %d", status)
	}
}

func TestChainEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.do(t, http.MethodPost, "/api/v1/chains", "", map[string]any{"steps": []any{}})
	if status != http.StatusForbidden {
		t.Fatalf("submit without identity status = %d body = %v", status, body)
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/chains/no-such-run", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown run status = %d body = %v", status, body)
	}
	if body["code"] != string(journal.CodeRunNotFound) {
		t.Fatalf("code = %v", body["code"])
	}

	status, body = h.do(t, http.MethodGet, "/api/v1/chains/stats", "", nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	if body["total"] != float64(0) {
		t.Fatalf("stats = %v", body)
	}
}

func TestAmountValidation(t *testing.T) {
	h := newAPIHarness(t)
	status, body := h.do(t, http.MethodPost, "/api/v1/vault/deposit-requests", "alice",
		map[string]string{"assets": "not-a-number"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d body = %v", status, body)
	}
}

func TestDeltaEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	status, _ := h.do(t, http.MethodPut, "/api/v1/vault/delta", "operator",
		map[string]uint64{"max_delta_bps": 500})
	if status != http.StatusOK {
		t.Fatalf("set delta status = %d", status)
	}
	if h.vault.MaxAllowedDelta() != 500 {
		t.Fatalf("max delta = %d", h.vault.MaxAllowedDelta())
	}

	status, body := h.do(t, http.MethodPut, "/api/v1/vault/delta", "operator",
		map[string]uint64{"max_delta_bps": 20_000})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("invalid bps status = %d body = %v", status, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	// Drive one instrumented request so the HTTP series exist.
	h.do(t, http.MethodGet, "/api/v1/vault", "", nil)

	resp, err := h.server.Client().Get(h.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(raw, []byte("vaultchain_")) {
		t.Fatalf("metrics output missing engine series:\n%s", raw)
	}
}
