package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"VaultChain/internal/auth"
	"VaultChain/internal/events"
)

func newTestService(t *testing.T) (*Service, *Vault, *events.MemoryProducer) {
	t.Helper()
	v := newTestVault(t, 0)
	checker := auth.NewMemoryChecker([]auth.Grant{
		{Identity: "operator", Capabilities: []auth.Capability{
			auth.CapabilitySettle, auth.CapabilityPause, auth.CapabilityAdminister,
		}},
	})
	producer := events.NewMemoryProducer(32)
	return NewService(v, checker, producer), v, producer
}

func drain(producer *events.MemoryProducer) []events.Event {
	var out []events.Event
	for {
		select {
		case event := <-producer.Events():
			out = append(out, event)
		default:
			return out
		}
	}
}

func TestServiceDepositFlowUsesControllerAddress(t *testing.T) {
	svc, v, producer := newTestService(t)
	ctx := auth.WithIdentity(context.Background(), "alice")
	controller := ControllerAddress("alice")
	fund(t, v, controller, 1_000)

	if err := svc.RequestDeposit(ctx, big.NewInt(1_000)); err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	minted, err := svc.Deposit(ctx, big.NewInt(1_000), common.Address{})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("minted = %s, want 1000", minted)
	}
	if got := v.shares.BalanceOf(controller); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("controller shares = %s, want 1000", got)
	}

	kinds := map[events.Kind]bool{}
	for _, event := range drain(producer) {
		kinds[event.Kind] = true
	}
	if !kinds[events.KindDepositRequested] || !kinds[events.KindDeposited] {
		t.Fatalf("expected request and deposit events, got %v", kinds)
	}
}

func TestServiceRequiresIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.RequestDeposit(context.Background(), big.NewInt(1)); !errors.Is(err, auth.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
	if _, err := svc.Redeem(context.Background(), big.NewInt(1), common.Address{}); !errors.Is(err, auth.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestServiceSettleIsCapabilityGated(t *testing.T) {
	svc, v, producer := newTestService(t)
	ctx := auth.WithIdentity(context.Background(), "alice")
	fund(t, v, ControllerAddress("alice"), 1_000)
	if err := svc.RequestDeposit(ctx, big.NewInt(1_000)); err != nil {
		t.Fatalf("request deposit: %v", err)
	}
	if _, err := svc.Deposit(ctx, big.NewInt(1_000), common.Address{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	drain(producer)

	ids := []common.Hash{StrategyID("aave-v3")}
	values := []*big.Int{big.NewInt(1_100)}

	if _, err := svc.Settle(ctx, big.NewInt(1_100), ids, values); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	operator := auth.WithIdentity(context.Background(), "operator")
	root, err := svc.Settle(operator, big.NewInt(1_100), ids, values)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if root != v.MerkleRoot() {
		t.Fatal("returned root must match the committed root")
	}
	if got := v.TotalAssets(); got.Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("total assets = %s, want 1100", got)
	}

	found := false
	for _, event := range drain(producer) {
		if event.Kind == events.KindSettled {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a settled event")
	}
}

func TestServicePauseGating(t *testing.T) {
	svc, v, _ := newTestService(t)
	alice := auth.WithIdentity(context.Background(), "alice")
	operator := auth.WithIdentity(context.Background(), "operator")

	if err := svc.Pause(alice); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.Pause(operator); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !v.Paused() {
		t.Fatal("vault should be paused")
	}
	if err := svc.Unpause(operator); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if v.Paused() {
		t.Fatal("vault should be unpaused")
	}
}

func TestServiceSetMaxAllowedDelta(t *testing.T) {
	svc, v, _ := newTestService(t)
	operator := auth.WithIdentity(context.Background(), "operator")
	alice := auth.WithIdentity(context.Background(), "alice")

	if err := svc.SetMaxAllowedDelta(alice, 500); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.SetMaxAllowedDelta(operator, 500); err != nil {
		t.Fatalf("set delta: %v", err)
	}
	if v.MaxAllowedDelta() != 500 {
		t.Fatalf("max delta = %d, want 500", v.MaxAllowedDelta())
	}
}
