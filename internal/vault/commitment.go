package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "VaultChain/internal/errors"
)

// StrategyID derives the canonical 32-byte identifier for a named strategy.
func StrategyID(name string) common.Hash {
	return crypto.Keccak256Hash([]byte(name))
}

// ComputeCommitment builds a hash-tree root over a (strategyId, value)
// breakdown. Leaves are keccak(id || value) in input order; levels are
// reduced pairwise, with an odd trailing node carried up unchanged. An empty
// breakdown commits to the zero hash.
func ComputeCommitment(ids []common.Hash, values []*big.Int) (common.Hash, error) {
	if len(ids) != len(values) {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument,
			"breakdown arrays differ in length")
	}
	if len(ids) == 0 {
		return common.Hash{}, nil
	}
	level := make([]common.Hash, len(ids))
	for i, id := range ids {
		if values[i] == nil || values[i].Sign() < 0 {
			return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument,
				"breakdown values must be non-negative")
		}
		var value common.Hash
		values[i].FillBytes(value[:])
		level[i] = crypto.Keccak256Hash(id.Bytes(), value.Bytes())
	}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, crypto.Keccak256Hash(level[i].Bytes(), level[i+1].Bytes()))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0], nil
}

// VerifyBreakdown recomputes the commitment for a claimed breakdown and
// compares it to the claimed root. It checks consistency with what was
// declared at settlement, not ground truth.
func VerifyBreakdown(ids []common.Hash, values []*big.Int, claimed common.Hash) (bool, error) {
	root, err := ComputeCommitment(ids, values)
	if err != nil {
		return false, err
	}
	return root == claimed, nil
}
