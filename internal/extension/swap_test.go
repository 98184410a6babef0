package extension_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"VaultChain/internal/auth"
	"VaultChain/internal/chain"
	"VaultChain/internal/extension"
	"VaultChain/internal/host"
	"VaultChain/internal/protocol"
	"VaultChain/internal/token"
)

type swapHarness struct {
	router   *host.Router
	tokenIn  *token.Token
	tokenOut *token.Token
	agg      *protocol.SwapRouter
	swap     *extension.Swap
	builder  *chain.Builder
	executor *chain.Executor
	treasury common.Address
}

func newSwapHarness(t *testing.T) *swapHarness {
	t.Helper()
	router := host.NewRouter()
	tokenIn := token.New("USD Coin", "USDC", 6)
	tokenOut := token.New("Tether USD", "USDT", 6)
	for _, tok := range []*token.Token{tokenIn, tokenOut} {
		if err := router.Register(tok.Address(), tok); err != nil {
			t.Fatalf("register token: %v", err)
		}
	}

	agg := protocol.NewSwapRouter("agg-router")
	agg.AddToken(tokenIn)
	agg.AddToken(tokenOut)
	agg.SetRate(tokenIn.Address(), tokenOut.Address(), 9_900)
	if err := router.Register(agg.Address(), agg); err != nil {
		t.Fatalf("register aggregator: %v", err)
	}
	// Router inventory pays the out side of each trade.
	if err := tokenOut.Mint(agg.Address(), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("fund aggregator: %v", err)
	}

	checker := auth.NewMemoryChecker([]auth.Grant{
		{Identity: "admin", Capabilities: []auth.Capability{auth.CapabilityAdminister}},
	})
	registry := extension.NewRegistry(checker, router)
	swap := extension.NewSwap("swap", router, "operator")
	if err := registry.Install(auth.WithIdentity(context.Background(), "admin"), swap); err != nil {
		t.Fatalf("install swap extension: %v", err)
	}

	treasury := host.DeriveAddress("vault/treasury")
	if err := tokenIn.Mint(treasury, big.NewInt(10_000)); err != nil {
		t.Fatalf("fund treasury: %v", err)
	}

	return &swapHarness{
		router:   router,
		tokenIn:  tokenIn,
		tokenOut: tokenOut,
		agg:      agg,
		swap:     swap,
		builder:  chain.NewBuilder(registry),
		executor: chain.NewExecutor(router, auth.PermitAll{}, treasury),
		treasury: treasury,
	}
}

func ownerCtx() context.Context {
	return auth.WithIdentity(context.Background(), "operator")
}

func (h *swapHarness) allowAggregator(t *testing.T) {
	t.Helper()
	if err := h.swap.Allow(ownerCtx(), h.agg.Address()); err != nil {
		t.Fatalf("allow aggregator: %v", err)
	}
}

func (h *swapHarness) swapStep(t *testing.T, amountIn, minOut int64) []chain.Step {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"router":    h.agg.Address(),
		"token_in":  h.tokenIn.Address(),
		"token_out": h.tokenOut.Address(),
		"amount_in": (*hexutil.Big)(big.NewInt(amountIn)),
		"min_out":   (*hexutil.Big)(big.NewInt(minOut)),
	})
	if err != nil {
		t.Fatalf("marshal swap step: %v", err)
	}
	return []chain.Step{{ExtensionID: "swap", Data: data}}
}

func (h *swapHarness) assertUntouched(t *testing.T) {
	t.Helper()
	if got := h.tokenIn.BalanceOf(h.treasury); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected input balance unchanged, got %s", got)
	}
	if got := h.tokenOut.BalanceOf(h.treasury); got.Sign() != 0 {
		t.Fatalf("expected no output tokens, got %s", got)
	}
	if got := h.tokenIn.Allowance(h.treasury, h.agg.Address()); got.Sign() != 0 {
		t.Fatalf("expected allowance rolled back, got %s", got)
	}
	if h.swap.ContextActive() {
		t.Fatal("swap context must be empty after the run")
	}
}

func TestAllowListIsOwnerGated(t *testing.T) {
	h := newSwapHarness(t)

	if err := h.swap.Allow(auth.WithIdentity(context.Background(), "stranger"), h.agg.Address()); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := h.swap.Allow(context.Background(), h.agg.Address()); !errors.Is(err, auth.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}

	h.allowAggregator(t)
	if !h.swap.Allowed(h.agg.Address()) {
		t.Fatal("aggregator should be allow-listed")
	}

	if err := h.swap.Disallow(auth.WithIdentity(context.Background(), "stranger"), h.agg.Address()); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := h.swap.Disallow(ownerCtx(), h.agg.Address()); err != nil {
		t.Fatalf("disallow as owner: %v", err)
	}
	if h.swap.Allowed(h.agg.Address()) {
		t.Fatal("aggregator should be de-listed")
	}
}

func TestBuildRejectsUnlistedRouter(t *testing.T) {
	h := newSwapHarness(t)
	if _, _, err := h.builder.Build(h.swapStep(t, 1_000, 0)); !errors.Is(err, extension.ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestSwapRunExchangesAtQuotedRate(t *testing.T) {
	h := newSwapHarness(t)
	h.allowAggregator(t)

	ops, touched, err := h.builder.Build(h.swapStep(t, 1_000, 980))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := h.executor.Execute(context.Background(), ops, touched); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := h.tokenIn.BalanceOf(h.treasury); got.Cmp(big.NewInt(9_000)) != 0 {
		t.Fatalf("expected input balance 9000, got %s", got)
	}
	// 1000 in at 9900 bps pays 990 out.
	if got := h.tokenOut.BalanceOf(h.treasury); got.Cmp(big.NewInt(990)) != 0 {
		t.Fatalf("expected output balance 990, got %s", got)
	}
	if got := h.tokenIn.Allowance(h.treasury, h.agg.Address()); got.Sign() != 0 {
		t.Fatalf("expected allowance revoked, got %s", got)
	}
	if h.swap.ContextActive() {
		t.Fatal("swap context must be empty after the run")
	}
}

func TestDelistedBetweenBuildAndExecuteAborts(t *testing.T) {
	h := newSwapHarness(t)
	h.allowAggregator(t)

	ops, touched, err := h.builder.Build(h.swapStep(t, 1_000, 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := h.swap.Disallow(ownerCtx(), h.agg.Address()); err != nil {
		t.Fatalf("disallow: %v", err)
	}

	if _, err := h.executor.Execute(context.Background(), ops, touched); !errors.Is(err, extension.ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed at execute time, got %v", err)
	}
	h.assertUntouched(t)
}

func TestSwapSlippageAbortsRun(t *testing.T) {
	h := newSwapHarness(t)
	h.allowAggregator(t)

	ops, touched, err := h.builder.Build(h.swapStep(t, 1_000, 991))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := h.executor.Execute(context.Background(), ops, touched); err == nil {
		t.Fatal("expected slippage failure")
	}
	h.assertUntouched(t)
}
