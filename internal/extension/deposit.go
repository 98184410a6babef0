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

// shareVault is the slice of the external-vault surface the deposit and
// redeem extensions need for balance-delta measurement.
type shareVault interface {
	ShareToken() *token.Token
}

// VaultDeposit moves idle custody assets into an external ERC4626-style
// vault. Its realized output is the number of external shares received,
// measured as a balance delta rather than trusted from the target.
type VaultDeposit struct {
	base
	asset *token.Token
}

// NewVaultDeposit constructs a deposit extension over the custody asset.
func NewVaultDeposit(id string, router *host.Router, asset *token.Token) *VaultDeposit {
	return &VaultDeposit{base: newBase(id, router), asset: asset}
}

type depositParams struct {
	Vault     common.Address `json:"vault"`
	Assets    *hexutil.Big   `json:"assets"`
	Receiver  common.Address `json:"receiver"`
	MinShares *hexutil.Big   `json:"min_shares"`
}

// Build turns the step blob into Operations: an optional dynamic-amount
// resolution, the approve/deposit/revoke bracket around the external pull.
func (e *VaultDeposit) Build(prev chain.Extension, data []byte) ([]chain.Operation, error) {
	var params depositParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse deposit step")
	}
	if params.Vault == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "deposit step requires a vault target")
	}
	if params.Assets == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "deposit step requires an amount")
	}
	amount := (*big.Int)(params.Assets)
	dynamic := chain.IsDynamicAmount(amount)
	if !dynamic && amount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "deposit amount must be positive")
	}
	if dynamic && prev == nil {
		return nil, ErrMissingPrevious
	}
	minShares := new(big.Int)
	if params.MinShares != nil {
		minShares = (*big.Int)(params.MinShares)
	}

	var ops []chain.Operation
	if dynamic {
		resolve, err := extABI.Pack("resolveOutput", prev.Address(), params.Vault, params.Receiver)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack resolveOutput")
		}
		ops = append(ops, chain.Operation{Target: e.addr, Payload: resolve})

		approve, err := extABI.Pack("approveFromContext", e.asset.Address(), params.Vault)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack approveFromContext")
		}
		ops = append(ops, chain.Operation{Target: e.addr, Payload: approve})
	} else {
		approve, err := token.PackApprove(params.Vault, amount)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack approve")
		}
		ops = append(ops, chain.Operation{Target: e.asset.Address(), Payload: approve})
	}

	deposit, err := extABI.Pack("deposit", params.Vault, amount, params.Receiver, minShares)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack deposit")
	}
	ops = append(ops, chain.Operation{Target: e.addr, Payload: deposit})

	revoke, err := token.PackApprove(params.Vault, new(big.Int))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack approve revoke")
	}
	ops = append(ops, chain.Operation{Target: e.asset.Address(), Payload: revoke})
	return ops, nil
}

// Call dispatches the extension's own Operations.
func (e *VaultDeposit) Call(ctx context.Context, call host.Call) ([]byte, error) {
	method, args, err := unpackCall(call)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "resolveOutput":
		return e.resolveOutput(args[0].(common.Address), args[1].(common.Address), args[2].(common.Address))
	case "approveFromContext":
		return e.approveFromContext(ctx, call, args[0].(common.Address), args[1].(common.Address))
	case "deposit":
		return e.executeDeposit(ctx, call, args[0].(common.Address), args[1].(*big.Int), args[2].(common.Address), args[3].(*big.Int))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported deposit method "+method.Name)
	}
}

func (e *VaultDeposit) executeDeposit(ctx context.Context, call host.Call, vaultAddr common.Address, amount *big.Int, receiver common.Address, minShares *big.Int) ([]byte, error) {
	run, err := e.context()
	if err != nil {
		return nil, err
	}
	if chain.IsDynamicAmount(amount) {
		if run.Amount == nil {
			return nil, xerrors.Wrap(CodeContextInactive, ErrContextInactive, "dynamic amount was never resolved")
		}
		amount = run.Amount
	}
	receiver = orCaller(receiver, call.Caller)

	callable, ok := e.router.Resolve(vaultAddr)
	if !ok {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, host.ErrTargetUnknown, "external vault "+vaultAddr.Hex())
	}
	target, ok := callable.(shareVault)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "target does not issue shares")
	}
	shares := target.ShareToken()

	// Output is measured as a share balance delta, never trusted from the
	// target's return value.
	before := shares.BalanceOf(receiver)
	run.BalanceBefore = before
	run.Target = vaultAddr

	payload, err := protocol.PackDeposit(amount, receiver)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack external deposit")
	}
	if _, err := e.invoke(ctx, call.Caller, vaultAddr, payload); err != nil {
		return nil, err
	}

	delta := new(big.Int).Sub(shares.BalanceOf(receiver), before)
	if minShares != nil && delta.Cmp(minShares) < 0 {
		return nil, xerrors.Wrap(CodeBelowMinimum, ErrBelowMinimum,
			"received "+delta.String()+" shares, minimum "+minShares.String())
	}
	run.Output = delta
	return extABI.Methods["deposit"].Outputs.Pack(delta)
}
