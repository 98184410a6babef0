package extension

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"VaultChain/internal/auth"
	"VaultChain/internal/chain"
	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
	"VaultChain/internal/protocol"
	"VaultChain/internal/token"
)

// Swap routes one token into another through an aggregation router. The
// extension keeps its own allow-list of routing targets, independent of the
// per-operation oracle, and checks it both when the chain is built and again
// when the Operation executes, so a target de-listed in between is rejected.
type Swap struct {
	base
	owner string

	listMu  sync.RWMutex
	allowed map[common.Address]struct{}
}

// NewSwap constructs a swap extension. Only owner may modify the allow-list.
func NewSwap(id string, router *host.Router, owner string) *Swap {
	return &Swap{
		base:    newBase(id, router),
		owner:   owner,
		allowed: make(map[common.Address]struct{}),
	}
}

// Allow adds a routing target. The caller identity must be the owner.
func (e *Swap) Allow(ctx context.Context, target common.Address) error {
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	e.listMu.Lock()
	defer e.listMu.Unlock()
	e.allowed[target] = struct{}{}
	return nil
}

// Disallow removes a routing target. The caller identity must be the owner.
func (e *Swap) Disallow(ctx context.Context, target common.Address) error {
	if err := e.requireOwner(ctx); err != nil {
		return err
	}
	e.listMu.Lock()
	defer e.listMu.Unlock()
	delete(e.allowed, target)
	return nil
}

// Allowed reports whether target is on the allow-list.
func (e *Swap) Allowed(target common.Address) bool {
	e.listMu.RLock()
	defer e.listMu.RUnlock()
	_, ok := e.allowed[target]
	return ok
}

func (e *Swap) requireOwner(ctx context.Context) error {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return auth.ErrMissingIdentity
	}
	if identity != e.owner {
		return xerrors.Wrap(xerrors.CodePermissionDenied, auth.ErrPermissionDenied,
			"allow-list is owned by "+e.owner)
	}
	return nil
}

type swapParams struct {
	Router   common.Address `json:"router"`
	TokenIn  common.Address `json:"token_in"`
	TokenOut common.Address `json:"token_out"`
	AmountIn *hexutil.Big   `json:"amount_in"`
	MinOut   *hexutil.Big   `json:"min_out"`
	Receiver common.Address `json:"receiver"`
}

// Build validates the routing target against the allow-list and emits the
// approve/swap/revoke bracket, with dynamic-amount resolution when asked.
func (e *Swap) Build(prev chain.Extension, data []byte) ([]chain.Operation, error) {
	var params swapParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse swap step")
	}
	if params.Router == (common.Address{}) || params.TokenIn == (common.Address{}) || params.TokenOut == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "swap step requires router and token pair")
	}
	if !e.Allowed(params.Router) {
		return nil, xerrors.Wrap(CodeTargetNotAllowed, ErrNotAllowed, "router "+params.Router.Hex())
	}
	if params.AmountIn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "swap step requires an amount")
	}
	amountIn := (*big.Int)(params.AmountIn)
	dynamic := chain.IsDynamicAmount(amountIn)
	if !dynamic && amountIn.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "swap amount must be positive")
	}
	if dynamic && prev == nil {
		return nil, ErrMissingPrevious
	}
	minOut := new(big.Int)
	if params.MinOut != nil {
		minOut = (*big.Int)(params.MinOut)
	}

	var ops []chain.Operation
	if dynamic {
		resolve, err := extABI.Pack("resolveOutput", prev.Address(), params.Router, params.Receiver)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack resolveOutput")
		}
		ops = append(ops, chain.Operation{Target: e.addr, Payload: resolve})

		approve, err := extABI.Pack("approveFromContext", params.TokenIn, params.Router)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack approveFromContext")
		}
		ops = append(ops, chain.Operation{Target: e.addr, Payload: approve})
	} else {
		approve, err := token.PackApprove(params.Router, amountIn)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack approve")
		}
		ops = append(ops, chain.Operation{Target: params.TokenIn, Payload: approve})
	}

	swap, err := extABI.Pack("swap", params.Router, params.TokenIn, params.TokenOut, amountIn, minOut, params.Receiver)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack swap")
	}
	ops = append(ops, chain.Operation{Target: e.addr, Payload: swap})

	revoke, err := token.PackApprove(params.Router, new(big.Int))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack approve revoke")
	}
	ops = append(ops, chain.Operation{Target: params.TokenIn, Payload: revoke})
	return ops, nil
}

// Call dispatches the extension's own Operations.
func (e *Swap) Call(ctx context.Context, call host.Call) ([]byte, error) {
	method, args, err := unpackCall(call)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "resolveOutput":
		return e.resolveOutput(args[0].(common.Address), args[1].(common.Address), args[2].(common.Address))
	case "approveFromContext":
		return e.approveFromContext(ctx, call, args[0].(common.Address), args[1].(common.Address))
	case "swap":
		return e.executeSwap(ctx, call,
			args[0].(common.Address),
			args[1].(common.Address),
			args[2].(common.Address),
			args[3].(*big.Int),
			args[4].(*big.Int),
			args[5].(common.Address),
		)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported swap method "+method.Name)
	}
}

func (e *Swap) executeSwap(ctx context.Context, call host.Call, routerAddr, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, receiver common.Address) ([]byte, error) {
	run, err := e.context()
	if err != nil {
		return nil, err
	}
	// Re-checked at execute time: a router de-listed after build must not
	// receive the call.
	if !e.Allowed(routerAddr) {
		return nil, xerrors.Wrap(CodeTargetNotAllowed, ErrNotAllowed, "router "+routerAddr.Hex())
	}
	if chain.IsDynamicAmount(amountIn) {
		if run.Amount == nil {
			return nil, xerrors.Wrap(CodeContextInactive, ErrContextInactive, "dynamic amount was never resolved")
		}
		amountIn = run.Amount
	}
	receiver = orCaller(receiver, call.Caller)

	callable, ok := e.router.Resolve(tokenOut)
	if !ok {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, host.ErrTargetUnknown, "output token "+tokenOut.Hex())
	}
	out, ok := callable.(*token.Token)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "output target is not a token ledger")
	}

	before := out.BalanceOf(receiver)
	run.BalanceBefore = before
	run.Target = routerAddr

	payload, err := protocol.PackSwap(tokenIn, tokenOut, amountIn, minOut, receiver)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack external swap")
	}
	if _, err := e.invoke(ctx, call.Caller, routerAddr, payload); err != nil {
		return nil, err
	}

	delta := new(big.Int).Sub(out.BalanceOf(receiver), before)
	if minOut != nil && delta.Cmp(minOut) < 0 {
		return nil, xerrors.Wrap(CodeBelowMinimum, ErrBelowMinimum,
			"received "+delta.String()+", minimum "+minOut.String())
	}
	run.Output = delta
	return extABI.Methods["swap"].Outputs.Pack(delta)
}
