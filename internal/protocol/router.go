package protocol

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
	"VaultChain/internal/token"
)

const routerABIJSON = `[
	{"type":"function","name":"swap","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"minOut","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

var routerABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic("protocol: parse router ABI: " + err.Error())
	}
	routerABI = parsed
}

// RouterABI exposes the aggregator method set for payload packing.
func RouterABI() abi.ABI {
	return routerABI
}

// PackSwap encodes swap(tokenIn, tokenOut, amountIn, minOut, receiver).
func PackSwap(tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, receiver common.Address) ([]byte, error) {
	return routerABI.Pack("swap", tokenIn, tokenOut, amountIn, minOut, receiver)
}

const (
	CodeUnsupportedPair xerrors.Code = "SWAP_UNSUPPORTED_PAIR"
	CodeSlippage        xerrors.Code = "SWAP_SLIPPAGE"
)

func init() {
	xerrors.Register(CodeUnsupportedPair, xerrors.Attributes{
		Message:  "swap pair not supported",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSlippage, xerrors.Attributes{
		Message:  "swap output below minimum",
		Severity: xerrors.SeverityInfo,
	})
}

type pair struct {
	in, out common.Address
}

// SwapRouter simulates an aggregation router with fixed per-pair rates. It
// pulls tokenIn from the caller via allowance and pays tokenOut from its own
// inventory, so approve-then-revoke bracketing is exercised exactly as it
// would be against a real aggregator.
type SwapRouter struct {
	mu      sync.RWMutex
	id      string
	addr    common.Address
	tokens  map[common.Address]*token.Token
	rateBps map[pair]uint64
}

// NewSwapRouter creates an empty simulated router.
func NewSwapRouter(id string) *SwapRouter {
	return &SwapRouter{
		id:      id,
		addr:    host.DeriveAddress("protocol/" + id),
		tokens:  make(map[common.Address]*token.Token),
		rateBps: make(map[pair]uint64),
	}
}

// ID returns the configured identifier.
func (r *SwapRouter) ID() string { return r.id }

// Address returns the dispatch address.
func (r *SwapRouter) Address() common.Address { return r.addr }

// AddToken makes a ledger known to the router.
func (r *SwapRouter) AddToken(t *token.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Address()] = t
}

// SetRate fixes the out/in exchange rate for a pair, in basis points.
func (r *SwapRouter) SetRate(tokenIn, tokenOut common.Address, bps uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateBps[pair{in: tokenIn, out: tokenOut}] = bps
}

// Swap pulls amountIn of tokenIn from trader and pays the quoted amount of
// tokenOut to receiver.
func (r *SwapRouter) Swap(trader, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, receiver common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "swap amount must be positive")
	}
	r.mu.RLock()
	in := r.tokens[tokenIn]
	out := r.tokens[tokenOut]
	bps, ok := r.rateBps[pair{in: tokenIn, out: tokenOut}]
	r.mu.RUnlock()
	if in == nil || out == nil || !ok {
		return nil, xerrors.New(CodeUnsupportedPair, "")
	}

	amountOut := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(bps))
	amountOut.Div(amountOut, big.NewInt(10_000))
	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, xerrors.New(CodeSlippage, "")
	}

	if err := in.TransferFrom(r.addr, trader, r.addr, amountIn); err != nil {
		return nil, err
	}
	if err := out.Transfer(r.addr, receiver, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// Call dispatches ABI-encoded router operations.
func (r *SwapRouter) Call(_ context.Context, call host.Call) ([]byte, error) {
	if len(call.Payload) < 4 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "router call payload too short")
	}
	method, err := routerABI.MethodById(call.Payload[:4])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unknown router method")
	}
	args, err := method.Inputs.Unpack(call.Args())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unpack router arguments")
	}
	if method.Name != "swap" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported router method "+method.Name)
	}
	amountOut, err := r.Swap(call.Caller,
		args[0].(common.Address),
		args[1].(common.Address),
		args[2].(*big.Int),
		args[3].(*big.Int),
		args[4].(common.Address),
	)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(amountOut)
}
