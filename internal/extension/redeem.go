package extension

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"VaultChain/internal/chain"
	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
	"VaultChain/internal/protocol"
	"VaultChain/internal/token"
)

// VaultRedeem pulls capital back from an external ERC4626-style vault. Its
// realized output is the amount of custody asset received, measured as a
// balance delta.
type VaultRedeem struct {
	base
	asset *token.Token
}

// NewVaultRedeem constructs a redeem extension over the custody asset.
func NewVaultRedeem(id string, router *host.Router, asset *token.Token) *VaultRedeem {
	return &VaultRedeem{base: newBase(id, router), asset: asset}
}

type redeemParams struct {
	Vault     common.Address `json:"vault"`
	Shares    *hexutil.Big   `json:"shares"`
	Receiver  common.Address `json:"receiver"`
	MinAssets *hexutil.Big   `json:"min_assets"`
}

// Build emits an optional dynamic-amount resolution followed by the redeem
// Operation. Redemption burns caller-owned shares, so no allowance bracket
// is required.
func (e *VaultRedeem) Build(prev chain.Extension, data []byte) ([]chain.Operation, error) {
	var params redeemParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse redeem step")
	}
	if params.Vault == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redeem step requires a vault target")
	}
	if params.Shares == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redeem step requires a share amount")
	}
	shares := (*big.Int)(params.Shares)
	dynamic := chain.IsDynamicAmount(shares)
	if !dynamic && shares.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redeem share amount must be positive")
	}
	if dynamic && prev == nil {
		return nil, ErrMissingPrevious
	}
	minAssets := new(big.Int)
	if params.MinAssets != nil {
		minAssets = (*big.Int)(params.MinAssets)
	}

	var ops []chain.Operation
	if dynamic {
		resolve, err := extABI.Pack("resolveOutput", prev.Address(), params.Vault, params.Receiver)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack resolveOutput")
		}
		ops = append(ops, chain.Operation{Target: e.addr, Payload: resolve})
	}
	redeem, err := extABI.Pack("redeem", params.Vault, shares, params.Receiver, minAssets)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack redeem")
	}
	ops = append(ops, chain.Operation{Target: e.addr, Payload: redeem})
	return ops, nil
}

// Call dispatches the extension's own Operations.
func (e *VaultRedeem) Call(ctx context.Context, call host.Call) ([]byte, error) {
	method, args, err := unpackCall(call)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "resolveOutput":
		return e.resolveOutput(args[0].(common.Address), args[1].(common.Address), args[2].(common.Address))
	case "redeem":
		return e.executeRedeem(ctx, call, args[0].(common.Address), args[1].(*big.Int), args[2].(common.Address), args[3].(*big.Int))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported redeem method "+method.Name)
	}
}

func (e *VaultRedeem) executeRedeem(ctx context.Context, call host.Call, vaultAddr common.Address, shares *big.Int, receiver common.Address, minAssets *big.Int) ([]byte, error) {
	run, err := e.context()
	if err != nil {
		return nil, err
	}
	if chain.IsDynamicAmount(shares) {
		if run.Amount == nil {
			return nil, xerrors.Wrap(CodeContextInactive, ErrContextInactive, "dynamic amount was never resolved")
		}
		shares = run.Amount
	}
	receiver = orCaller(receiver, call.Caller)

	before := e.asset.BalanceOf(receiver)
	run.BalanceBefore = before
	run.Target = vaultAddr

	payload, err := protocol.PackRedeem(shares, receiver, call.Caller)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack external redeem")
	}
	if _, err := e.invoke(ctx, call.Caller, vaultAddr, payload); err != nil {
		return nil, err
	}

	delta := new(big.Int).Sub(e.asset.BalanceOf(receiver), before)
	if minAssets != nil && delta.Cmp(minAssets) < 0 {
		return nil, xerrors.Wrap(CodeBelowMinimum, ErrBelowMinimum,
			"received "+delta.String()+" assets, minimum "+minAssets.String())
	}
	run.Output = delta
	return extABI.Methods["redeem"].Outputs.Pack(delta)
}
