package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"VaultChain/sdk/go/vaultchain"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/vault/deposit-requests", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"assets": "10000"})
	})
	mux.HandleFunc("POST /api/v1/vault/deposits", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"shares": "10000"})
	})
	mux.HandleFunc("POST /api/v1/chains", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(vaultchain.Run{
			ID:      "run-demo",
			Status:  "succeeded",
			Results: []string{"0x", "0x", "0x"},
		})
	})
	mux.HandleFunc("GET /api/v1/vault", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(vaultchain.VaultState{
			Name:        "main",
			TotalAssets: "10000",
			TotalIdle:   "9500",
			SharePrice:  "1000000",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := vaultchain.NewClient(srv.URL, srv.Client())
	client.SetIdentity("operator")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.RequestDeposit(ctx, "10000"); err != nil {
		panic(err)
	}
	shares, err := client.Deposit(ctx, "10000")
	if err != nil {
		panic(err)
	}
	fmt.Printf("deposited 10000, minted %s shares\n", shares)

	run, err := client.SubmitChain(ctx, []vaultchain.Step{
		{ExtensionID: "vault-deposit", Data: json.RawMessage(`{"vault":"0x0000000000000000000000000000000000000001","assets":"0x1388"}`)},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("chain %s finished with status %s\n", run.ID, run.Status)

	state, err := client.State(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("vault %s: total=%s idle=%s\n", state.Name, state.TotalAssets, state.TotalIdle)
}
