package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"VaultChain/internal/host"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestMintTransferBurn(t *testing.T) {
	usdc := New("USD Coin", "USDC", 6)
	if err := usdc.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := usdc.Transfer(alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := usdc.BalanceOf(alice); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance = %s, want 600", got)
	}
	if got := usdc.BalanceOf(bob); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("bob balance = %s, want 400", got)
	}
	if err := usdc.Burn(bob, big.NewInt(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := usdc.TotalSupply(); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("supply = %s, want 600", got)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	usdc := New("USD Coin", "USDC", 6)
	if err := usdc.Transfer(alice, bob, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	usdc := New("USD Coin", "USDC", 6)
	if err := usdc.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := usdc.TransferFrom(carol, alice, bob, big.NewInt(100)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := usdc.Approve(alice, carol, big.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := usdc.TransferFrom(carol, alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := usdc.Allowance(alice, carol); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("remaining allowance = %s, want 50", got)
	}
	if err := usdc.TransferFrom(carol, alice, bob, big.NewInt(51)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance after spend, got %v", err)
	}
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	usdc := New("USD Coin", "USDC", 6)
	if err := usdc.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	bal := usdc.BalanceOf(alice)
	bal.SetInt64(0)
	if got := usdc.BalanceOf(alice); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("ledger mutated through returned value: %s", got)
	}
}

func TestDispatchedCallsUseCallerAsOwner(t *testing.T) {
	usdc := New("USD Coin", "USDC", 6)
	if err := usdc.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	approve, err := PackApprove(bob, big.NewInt(250))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	if _, err := usdc.Call(context.Background(), host.Call{Caller: alice, Target: usdc.Address(), Payload: approve}); err != nil {
		t.Fatalf("dispatch approve: %v", err)
	}
	if got := usdc.Allowance(alice, bob); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("allowance = %s, want 250", got)
	}

	transfer, err := PackTransfer(carol, big.NewInt(10))
	if err != nil {
		t.Fatalf("pack transfer: %v", err)
	}
	if _, err := usdc.Call(context.Background(), host.Call{Caller: alice, Target: usdc.Address(), Payload: transfer}); err != nil {
		t.Fatalf("dispatch transfer: %v", err)
	}
	if got := usdc.BalanceOf(carol); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("carol balance = %s, want 10", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	usdc := New("USD Coin", "USDC", 6)
	if err := usdc.Mint(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := usdc.Approve(alice, bob, big.NewInt(77)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	snap := usdc.Snapshot()

	if err := usdc.Transfer(alice, bob, big.NewInt(900)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := usdc.Approve(alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("reset approve: %v", err)
	}

	usdc.Restore(snap)
	if got := usdc.BalanceOf(alice); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("alice balance after restore = %s, want 1000", got)
	}
	if got := usdc.BalanceOf(bob); got.Sign() != 0 {
		t.Fatalf("bob balance after restore = %s, want 0", got)
	}
	if got := usdc.Allowance(alice, bob); got.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("allowance after restore = %s, want 77", got)
	}
}
