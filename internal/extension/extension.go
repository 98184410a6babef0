package extension

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"VaultChain/internal/chain"
	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
	"VaultChain/internal/token"
)

// Module is what the registry installs: an extension that is also a
// dispatch target, since extensions emit Operations against themselves for
// context-dependent work.
type Module interface {
	chain.Extension
	host.Callable
}

const (
	CodeContextActive    xerrors.Code = "EXT_CONTEXT_ACTIVE"
	CodeContextInactive  xerrors.Code = "EXT_CONTEXT_INACTIVE"
	CodeNoOutput         xerrors.Code = "EXT_NO_OUTPUT"
	CodeMissingPrevious  xerrors.Code = "EXT_MISSING_PREVIOUS"
	CodeBelowMinimum     xerrors.Code = "EXT_OUTPUT_BELOW_MINIMUM"
	CodeTargetNotAllowed xerrors.Code = "EXT_TARGET_NOT_ALLOWED"
)

func init() {
	xerrors.Register(CodeContextActive, xerrors.Attributes{
		Message:  "execution context already active",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeContextInactive, xerrors.Attributes{
		Message:  "execution context not initialised",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNoOutput, xerrors.Attributes{
		Message:  "previous step produced no usable output",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeMissingPrevious, xerrors.Attributes{
		Message:  "dynamic amount requires a previous step",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeBelowMinimum, xerrors.Attributes{
		Message:  "realized output below caller minimum",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTargetNotAllowed, xerrors.Attributes{
		Message:  "target not on extension allow-list",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

var (
	ErrContextActive   = xerrors.New(CodeContextActive, "")
	ErrContextInactive = xerrors.New(CodeContextInactive, "")
	ErrNoOutput        = xerrors.New(CodeNoOutput, "")
	ErrMissingPrevious = xerrors.New(CodeMissingPrevious, "")
	ErrBelowMinimum    = xerrors.New(CodeBelowMinimum, "")
	ErrNotAllowed      = xerrors.New(CodeTargetNotAllowed, "")
)

const extABIJSON = `[
	{"type":"function","name":"resolveOutput","inputs":[{"name":"prev","type":"address"},{"name":"target","type":"address"},{"name":"receiver","type":"address"}],"outputs":[{"name":"amount","type":"uint256"}]},
	{"type":"function","name":"approveFromContext","inputs":[{"name":"token","type":"address"},{"name":"spender","type":"address"}],"outputs":[]},
	{"type":"function","name":"deposit","inputs":[{"name":"vault","type":"address"},{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"minShares","type":"uint256"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"type":"function","name":"redeem","inputs":[{"name":"vault","type":"address"},{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"minAssets","type":"uint256"}],"outputs":[{"name":"assets","type":"uint256"}]},
	{"type":"function","name":"swap","inputs":[{"name":"router","type":"address"},{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"minOut","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

var extABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(extABIJSON))
	if err != nil {
		panic("extension: parse ABI: " + err.Error())
	}
	extABI = parsed
}

// Context is the per-run transient state of one extension: the resolved
// amount, the pre-action balance snapshot and the realized output. It exists
// only between initializeContext and finalizeContext.
type Context struct {
	Amount        *big.Int
	Target        common.Address
	Receiver      common.Address
	BalanceBefore *big.Int
	Output        *big.Int
}

// base carries the lifecycle and dynamic-resolution plumbing shared by all
// extension kinds.
type base struct {
	id     string
	addr   common.Address
	router *host.Router

	mu  sync.Mutex
	run *Context
}

func newBase(id string, router *host.Router) base {
	return base{id: id, addr: host.DeriveAddress("extension/" + id), router: router}
}

// ID returns the registry identifier.
func (b *base) ID() string { return b.id }

// Address returns the dispatch address of the extension.
func (b *base) Address() common.Address { return b.addr }

// InitializeContext opens a fresh execution context for one run.
func (b *base) InitializeContext() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run != nil {
		return ErrContextActive
	}
	b.run = &Context{}
	return nil
}

// FinalizeContext unconditionally discards the execution context.
func (b *base) FinalizeContext() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.run = nil
}

// ContextActive reports whether a run context currently exists.
func (b *base) ContextActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.run != nil
}

// ProduceOutput exposes the realized balance delta of the current run.
func (b *base) ProduceOutput() (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return nil, ErrContextInactive
	}
	if b.run.Output == nil {
		return nil, ErrNoOutput
	}
	return new(big.Int).Set(b.run.Output), nil
}

func (b *base) context() (*Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		return nil, ErrContextInactive
	}
	return b.run, nil
}

// resolveOutput reads the previous extension's realized output and stores it
// with the step parameters in this extension's context. The previous value
// must be strictly positive.
func (b *base) resolveOutput(prev, target, receiver common.Address) ([]byte, error) {
	run, err := b.context()
	if err != nil {
		return nil, err
	}
	callable, ok := b.router.Resolve(prev)
	if !ok {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, host.ErrTargetUnknown, "previous extension "+prev.Hex())
	}
	producer, ok := callable.(chain.OutputProducer)
	if !ok {
		return nil, xerrors.Wrap(CodeNoOutput, ErrNoOutput, "previous extension does not produce output")
	}
	output, err := producer.ProduceOutput()
	if err != nil {
		return nil, err
	}
	if output.Sign() <= 0 {
		return nil, ErrNoOutput
	}
	run.Amount = output
	run.Target = target
	run.Receiver = receiver
	method := extABI.Methods["resolveOutput"]
	return method.Outputs.Pack(output)
}

// approveFromContext grants the spender exactly the dynamically resolved
// amount, on behalf of the acting account.
func (b *base) approveFromContext(ctx context.Context, call host.Call, tokenAddr, spender common.Address) ([]byte, error) {
	run, err := b.context()
	if err != nil {
		return nil, err
	}
	if run.Amount == nil {
		return nil, xerrors.Wrap(CodeContextInactive, ErrContextInactive, "no resolved amount to approve")
	}
	payload, err := token.PackApprove(spender, run.Amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutionFailure, err, "pack approve")
	}
	return b.router.Dispatch(ctx, host.Call{
		Caller:  call.Caller,
		Target:  tokenAddr,
		Value:   new(big.Int),
		Payload: payload,
	})
}

// invoke performs a nested call on behalf of the acting account.
func (b *base) invoke(ctx context.Context, caller, target common.Address, payload []byte) ([]byte, error) {
	return b.router.Dispatch(ctx, host.Call{
		Caller:  caller,
		Target:  target,
		Value:   new(big.Int),
		Payload: payload,
	})
}

func unpackCall(call host.Call) (*abi.Method, []any, error) {
	if len(call.Payload) < 4 {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "extension call payload too short")
	}
	method, err := extABI.MethodById(call.Payload[:4])
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unknown extension method")
	}
	args, err := method.Inputs.Unpack(call.Args())
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unpack extension arguments")
	}
	return method, args, nil
}

// orCaller substitutes the acting account for an unset receiver.
func orCaller(receiver, caller common.Address) common.Address {
	if receiver == (common.Address{}) {
		return caller
	}
	return receiver
}
