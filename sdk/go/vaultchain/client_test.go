package vaultchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmitChainSendsIdentity(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chains" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("X-Identity"); got != "operator" {
			t.Fatalf("expected identity header, got %q", got)
		}
		var payload struct {
			Steps []Step `json:"steps"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(payload.Steps) != 1 || payload.Steps[0].ExtensionID != "vault-deposit" {
			t.Fatalf("unexpected steps: %+v", payload.Steps)
		}
		submitted = true
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Run{ID: "run-1", Status: "succeeded"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	client.SetIdentity("operator")

	run, err := client.SubmitChain(context.Background(), []Step{
		{ExtensionID: "vault-deposit", Data: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("submit chain: %v", err)
	}
	if run.ID != "run-1" {
		t.Fatalf("unexpected run id: %s", run.ID)
	}
	if !submitted {
		t.Fatal("chain was not submitted")
	}
}

func TestStateDecodesLedgerView(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/vault" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(VaultState{
			Name:        "main",
			TotalAssets: "10000",
			TotalIdle:   "4000",
			SharePrice:  "1000000",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	state, err := client.State(context.Background())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.TotalAssets != "10000" || state.TotalIdle != "4000" {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestSettleErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "delta 600 bps, allowed 500",
			"code":  "VAULT_DELTA_EXCEEDED",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.Settle(context.Background(), "10600", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "VAULT_DELTA_EXCEEDED" {
		t.Fatalf("unexpected error code: %s", apiErr.Code)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}
