package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"VaultChain/internal/auth"
	"VaultChain/internal/chain"
	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/extension"
	"VaultChain/internal/journal"
	"VaultChain/internal/observability/alerting"
	"VaultChain/internal/observability/metrics"
	"VaultChain/internal/vault"
)

// identityHeader carries the caller identity. Authentication proper is the
// edge proxy's job; the daemon only maps the identity onto capabilities.
const identityHeader = "X-Identity"

// Server exposes the REST surface: chain submission, the vault ledger and
// its settlement operations, and extension administration.
type Server struct {
	addr     string
	chains   *chain.Service
	vault    *vault.Service
	registry *extension.Registry
	alerts   alerting.Dispatcher
}

// NewServer constructs the API server.
func NewServer(addr string, chains *chain.Service, vaultSvc *vault.Service, registry *extension.Registry, alerts alerting.Dispatcher) *Server {
	return &Server{addr: addr, chains: chains, vault: vaultSvc, registry: registry, alerts: alerts}
}

// Start serves HTTP until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chains", s.instrument("chains", s.handleSubmitChain))
	mux.HandleFunc("GET /api/v1/chains", s.instrument("chains", s.handleListChains))
	mux.HandleFunc("GET /api/v1/chains/stats", s.instrument("chain_stats", s.handleChainStats))
	mux.HandleFunc("GET /api/v1/chains/{id}", s.instrument("chain", s.handleGetChain))

	mux.HandleFunc("GET /api/v1/vault", s.instrument("vault", s.handleVaultState))
	mux.HandleFunc("GET /api/v1/vault/requests", s.instrument("vault_requests", s.handleVaultRequests))
	mux.HandleFunc("POST /api/v1/vault/deposit-requests", s.instrument("deposit_request", s.handleRequestDeposit))
	mux.HandleFunc("POST /api/v1/vault/deposits", s.instrument("deposit", s.handleDeposit))
	mux.HandleFunc("POST /api/v1/vault/mints", s.instrument("mint", s.handleMint))
	mux.HandleFunc("POST /api/v1/vault/redeem-requests", s.instrument("redeem_request", s.handleRequestRedeem))
	mux.HandleFunc("POST /api/v1/vault/redemptions", s.instrument("redemption", s.handleRedeem))
	mux.HandleFunc("POST /api/v1/vault/withdrawals", s.instrument("withdrawal", s.handleWithdraw))
	mux.HandleFunc("POST /api/v1/vault/settlements", s.instrument("settlement", s.handleSettle))
	mux.HandleFunc("POST /api/v1/vault/verification", s.instrument("verification", s.handleVerify))
	mux.HandleFunc("POST /api/v1/vault/pause", s.instrument("pause", s.handlePause))
	mux.HandleFunc("POST /api/v1/vault/unpause", s.instrument("unpause", s.handleUnpause))
	mux.HandleFunc("PUT /api/v1/vault/delta", s.instrument("delta", s.handleSetDelta))

	mux.HandleFunc("GET /api/v1/extensions", s.instrument("extensions", s.handleListExtensions))
	mux.HandleFunc("DELETE /api/v1/extensions/{id}", s.instrument("extension", s.handleUninstallExtension))

	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if identity := r.Header.Get(identityHeader); identity != "" {
			r = r.WithContext(auth.WithIdentity(r.Context(), identity))
		}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type submitChainRequest struct {
	Steps []chain.Step `json:"steps"`
}

func (s *Server) handleSubmitChain(w http.ResponseWriter, r *http.Request) {
	var req submitChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode chain submission"))
		return
	}
	run, err := s.chains.Submit(r.Context(), req.Steps)
	if err != nil {
		metrics.ObserveChainRun(string(journal.StatusFailed), 0)
		s.alert(r.Context(), err, "")
		writeError(w, err)
		return
	}
	metrics.ObserveChainRun(string(journal.StatusSucceeded), len(run.Results))
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	var opts []journal.ListOption
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			opts = append(opts, journal.WithLimit(limit))
		}
	}
	if status := r.URL.Query().Get("status"); status != "" {
		opts = append(opts, journal.WithStatuses(journal.Status(status)))
	}
	runs, err := s.chains.History(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	run, err := s.chains.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleChainStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.chains.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type vaultStateResponse struct {
	Name            string `json:"name"`
	TotalAssets     string `json:"total_assets"`
	TotalIdle       string `json:"total_idle"`
	SharePrice      string `json:"share_price"`
	MerkleRoot      string `json:"merkle_root"`
	Paused          bool   `json:"paused"`
	MaxAllowedDelta uint64 `json:"max_allowed_delta_bps"`
}

func (s *Server) handleVaultState(w http.ResponseWriter, _ *http.Request) {
	v := s.vault.Vault()
	writeJSON(w, http.StatusOK, vaultStateResponse{
		Name:            v.Name(),
		TotalAssets:     v.TotalAssets().String(),
		TotalIdle:       v.TotalIdle().String(),
		SharePrice:      v.SharePrice().String(),
		MerkleRoot:      v.MerkleRoot().Hex(),
		Paused:          v.Paused(),
		MaxAllowedDelta: v.MaxAllowedDelta(),
	})
}

type vaultRequestsResponse struct {
	PendingDeposit   string `json:"pending_deposit"`
	ClaimableDeposit string `json:"claimable_deposit"`
	PendingRedeem    string `json:"pending_redeem"`
	ClaimableRedeem  string `json:"claimable_redeem"`
	MaxRedeem        string `json:"max_redeem"`
}

func (s *Server) handleVaultRequests(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, auth.ErrMissingIdentity)
		return
	}
	v := s.vault.Vault()
	controller := vault.ControllerAddress(identity)
	writeJSON(w, http.StatusOK, vaultRequestsResponse{
		PendingDeposit:   v.PendingDeposit(controller).String(),
		ClaimableDeposit: v.ClaimableDeposit(controller).String(),
		PendingRedeem:    v.PendingRedeem(controller).String(),
		ClaimableRedeem:  v.ClaimableRedeem(controller).String(),
		MaxRedeem:        v.MaxRedeem(controller).String(),
	})
}

type amountRequest struct {
	Assets   string `json:"assets,omitempty"`
	Shares   string `json:"shares,omitempty"`
	Receiver string `json:"receiver,omitempty"`
}

func (r amountRequest) receiver() common.Address {
	if r.Receiver == "" {
		return common.Address{}
	}
	return common.HexToAddress(r.Receiver)
}

func parseAmount(raw, name string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid "+name+" amount")
	}
	return amount, nil
}

func (s *Server) handleRequestDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode deposit request"))
		return
	}
	assets, err := parseAmount(req.Assets, "asset")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.RequestDeposit(r.Context(), assets); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"assets": assets.String()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode deposit"))
		return
	}
	assets, err := parseAmount(req.Assets, "asset")
	if err != nil {
		writeError(w, err)
		return
	}
	minted, err := s.vault.Deposit(r.Context(), assets, req.receiver())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": minted.String()})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode mint"))
		return
	}
	sharesOut, err := parseAmount(req.Shares, "share")
	if err != nil {
		writeError(w, err)
		return
	}
	assets, err := s.vault.Mint(r.Context(), sharesOut, req.receiver())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assets": assets.String()})
}

func (s *Server) handleRequestRedeem(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode redeem request"))
		return
	}
	sharesIn, err := parseAmount(req.Shares, "share")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.vault.RequestRedeem(r.Context(), sharesIn); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"shares": sharesIn.String()})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode redemption"))
		return
	}
	sharesIn, err := parseAmount(req.Shares, "share")
	if err != nil {
		writeError(w, err)
		return
	}
	assets, err := s.vault.Redeem(r.Context(), sharesIn, req.receiver())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assets": assets.String()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode withdrawal"))
		return
	}
	assets, err := parseAmount(req.Assets, "asset")
	if err != nil {
		writeError(w, err)
		return
	}
	burned, err := s.vault.Withdraw(r.Context(), assets, req.receiver())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": burned.String()})
}

type breakdownEntry struct {
	Strategy string `json:"strategy"`
	Value    string `json:"value"`
}

type settleRequest struct {
	Total     string           `json:"total"`
	Breakdown []breakdownEntry `json:"breakdown"`
}

func parseBreakdown(entries []breakdownEntry) ([]common.Hash, []*big.Int, error) {
	ids := make([]common.Hash, len(entries))
	values := make([]*big.Int, len(entries))
	for i, entry := range entries {
		value, err := parseAmount(entry.Value, "breakdown")
		if err != nil {
			return nil, nil, err
		}
		ids[i] = vault.StrategyID(entry.Strategy)
		values[i] = value
	}
	return ids, values, nil
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode settlement"))
		return
	}
	total, err := parseAmount(req.Total, "total")
	if err != nil {
		writeError(w, err)
		return
	}
	ids, values, err := parseBreakdown(req.Breakdown)
	if err != nil {
		writeError(w, err)
		return
	}
	root, err := s.vault.Settle(r.Context(), total, ids, values)
	if err != nil {
		s.alert(r.Context(), err, "")
		writeError(w, err)
		return
	}
	metrics.ObserveSettlement()
	writeJSON(w, http.StatusOK, map[string]string{
		"total":       total.String(),
		"merkle_root": root.Hex(),
	})
}

type verifyRequest struct {
	Breakdown []breakdownEntry `json:"breakdown"`
	Root      string           `json:"root"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode verification"))
		return
	}
	ids, values, err := parseBreakdown(req.Breakdown)
	if err != nil {
		writeError(w, err)
		return
	}
	root := common.HexToHash(req.Root)
	if req.Root == "" {
		root = s.vault.Vault().MerkleRoot()
	}
	valid, err := vault.VerifyBreakdown(ids, values, root)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Pause(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Unpause(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type deltaRequest struct {
	MaxDeltaBps uint64 `json:"max_delta_bps"`
}

func (s *Server) handleSetDelta(w http.ResponseWriter, r *http.Request) {
	var req deltaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode delta update"))
		return
	}
	if err := s.vault.SetMaxAllowedDelta(r.Context(), req.MaxDeltaBps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"max_delta_bps": req.MaxDeltaBps})
}

func (s *Server) handleListExtensions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"extensions": s.registry.List()})
}

func (s *Server) handleUninstallExtension(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Uninstall(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) alert(ctx context.Context, err error, runID string) {
	if s.alerts == nil {
		return
	}
	if event, ok := alerting.FromError(err, runID); ok {
		_ = s.alerts.Notify(ctx, event)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound, journal.CodeRunNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, vault.CodePaused, vault.CodeAlreadyInitialized:
		status = http.StatusConflict
	case xerrors.CodePermissionDenied, auth.CodeMissingIdentity, auth.CodeCallRejected:
		status = http.StatusForbidden
	case vault.CodeInsufficientClaimable, vault.CodeRedeemExceedsMax,
		vault.CodeDeltaExceeded, vault.CodeInvalidBps:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}
