package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"VaultChain/internal/auth"
	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
)

// Executor drives the three-phase lifecycle of a chain run as one indivisible
// unit: initialize every touched extension, dispatch every Operation through
// the authorization oracle, then finalize every touched extension. Any
// failure anywhere rolls the whole run back; finalize always runs so no
// ExecutionContext survives a run.
type Executor struct {
	router *host.Router
	oracle auth.Oracle
	caller common.Address
}

// NewExecutor constructs an executor. Operations are dispatched with caller
// as the acting account, normally the custody vault address.
func NewExecutor(router *host.Router, oracle auth.Oracle, caller common.Address) *Executor {
	return &Executor{router: router, oracle: oracle, caller: caller}
}

// Execute runs the flattened operation list against the touched extensions
// and returns one raw result per executed Operation.
func (e *Executor) Execute(ctx context.Context, ops []Operation, touched []Extension) (results [][]byte, err error) {
	if e.oracle == nil || e.router == nil {
		return nil, xerrors.New(xerrors.CodeStateFailure, "executor is not fully wired")
	}
	if len(ops) == 0 {
		return nil, ErrEmptyChain
	}

	snaps := e.router.Snapshot()
	var initialized []Extension
	defer func() {
		// Phase three runs unconditionally: every initialized extension is
		// finalized and its context cleared even when the run aborts.
		for _, ext := range initialized {
			ext.FinalizeContext()
		}
		if err != nil {
			e.router.Restore(snaps)
			results = nil
		}
	}()

	for _, ext := range touched {
		if initErr := ext.InitializeContext(); initErr != nil {
			err = xerrors.Wrap(CodeRunFailure, initErr, "initialize "+ext.ID())
			return nil, err
		}
		initialized = append(initialized, ext)
	}

	for i, op := range ops {
		value := op.Value
		if value == nil {
			value = new(big.Int)
		}
		call := host.Call{Caller: e.caller, Target: op.Target, Value: value, Payload: op.Payload}
		if authErr := e.oracle.Authorize(ctx, call); authErr != nil {
			err = xerrors.Wrap(CodeRunFailure, authErr, fmt.Sprintf("operation %d denied", i))
			return nil, err
		}
		out, dispatchErr := e.router.Dispatch(ctx, call)
		if dispatchErr != nil {
			err = xerrors.Wrap(CodeRunFailure, dispatchErr, fmt.Sprintf("operation %d failed", i))
			return nil, err
		}
		results = append(results, out)
	}
	return results, nil
}
