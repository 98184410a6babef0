package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestComputeCommitmentDeterministic(t *testing.T) {
	ids := []common.Hash{StrategyID("aave-v3"), StrategyID("morpho"), StrategyID("idle")}
	values := []*big.Int{big.NewInt(5_000), big.NewInt(3_000), big.NewInt(2_000)}

	root, err := ComputeCommitment(ids, values)
	if err != nil {
		t.Fatalf("compute commitment: %v", err)
	}
	if root == (common.Hash{}) {
		t.Fatal("expected non-zero root")
	}

	again, err := ComputeCommitment(ids, values)
	if err != nil {
		t.Fatalf("recompute commitment: %v", err)
	}
	if root != again {
		t.Fatalf("commitment not deterministic: %s vs %s", root, again)
	}
}

func TestComputeCommitmentEmptyIsZero(t *testing.T) {
	root, err := ComputeCommitment(nil, nil)
	if err != nil {
		t.Fatalf("compute commitment: %v", err)
	}
	if root != (common.Hash{}) {
		t.Fatalf("expected zero root, got %s", root)
	}
}

func TestComputeCommitmentRejectsMismatchedArrays(t *testing.T) {
	ids := []common.Hash{StrategyID("aave-v3")}
	if _, err := ComputeCommitment(ids, nil); err == nil {
		t.Fatal("expected mismatched arrays to fail")
	}
}

func TestVerifyBreakdown(t *testing.T) {
	ids := []common.Hash{StrategyID("aave-v3"), StrategyID("morpho")}
	values := []*big.Int{big.NewInt(7_000), big.NewInt(3_000)}

	root, err := ComputeCommitment(ids, values)
	if err != nil {
		t.Fatalf("compute commitment: %v", err)
	}

	valid, err := VerifyBreakdown(ids, values, root)
	if err != nil {
		t.Fatalf("verify breakdown: %v", err)
	}
	if !valid {
		t.Fatal("expected declared breakdown to verify")
	}

	tampered := []*big.Int{big.NewInt(7_001), big.NewInt(2_999)}
	valid, err = VerifyBreakdown(ids, tampered, root)
	if err != nil {
		t.Fatalf("verify tampered breakdown: %v", err)
	}
	if valid {
		t.Fatal("expected tampered breakdown to fail verification")
	}
}

func TestVerifyBreakdownOrderMatters(t *testing.T) {
	ids := []common.Hash{StrategyID("aave-v3"), StrategyID("morpho")}
	values := []*big.Int{big.NewInt(7_000), big.NewInt(3_000)}

	root, err := ComputeCommitment(ids, values)
	if err != nil {
		t.Fatalf("compute commitment: %v", err)
	}

	swappedIDs := []common.Hash{ids[1], ids[0]}
	swappedValues := []*big.Int{values[1], values[0]}
	valid, err := VerifyBreakdown(swappedIDs, swappedValues, root)
	if err != nil {
		t.Fatalf("verify reordered breakdown: %v", err)
	}
	if valid {
		t.Fatal("leaf order is part of the commitment")
	}
}
