package token

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
)

const (
	CodeInsufficientBalance   xerrors.Code = "TOKEN_INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance xerrors.Code = "TOKEN_INSUFFICIENT_ALLOWANCE"
)

func init() {
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:  "insufficient token balance",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInsufficientAllowance, xerrors.Attributes{
		Message:  "insufficient token allowance",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	ErrInsufficientBalance   = xerrors.New(CodeInsufficientBalance, "")
	ErrInsufficientAllowance = xerrors.New(CodeInsufficientAllowance, "")
)

const tokenABIJSON = `[
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"ok","type":"bool"}]},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"ok","type":"bool"}]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"ok","type":"bool"}]}
]`

var tokenABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic("token: parse ABI: " + err.Error())
	}
	tokenABI = parsed
}

// ABI exposes the token method set so extensions can pack approve and
// transfer operations against any token target.
func ABI() abi.ABI {
	return tokenABI
}

// PackApprove encodes an approve(spender, amount) payload.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("approve", spender, amount)
}

// PackTransfer encodes a transfer(to, amount) payload.
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("transfer", to, amount)
}

// Token is an in-process balance and allowance ledger. It backs the custody
// asset, the vault share ledger and the share ledgers of simulated external
// vaults, and accepts approve/transfer/transferFrom operations as a dispatch
// target.
type Token struct {
	mu          sync.RWMutex
	name        string
	symbol      string
	decimals    uint8
	addr        common.Address
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
}

// New constructs an empty token ledger with an address derived from symbol.
func New(name, symbol string, decimals uint8) *Token {
	return &Token{
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		addr:        host.DeriveAddress("token/" + symbol),
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Name returns the token name.
func (t *Token) Name() string { return t.name }

// Symbol returns the token symbol.
func (t *Token) Symbol() string { return t.symbol }

// Decimals returns the display precision.
func (t *Token) Decimals() uint8 { return t.decimals }

// Address returns the dispatch address of the ledger.
func (t *Token) Address() common.Address { return t.addr }

// TotalSupply returns the minted supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf returns the balance held by owner.
func (t *Token) BalanceOf(owner common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[owner]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Allowance returns what spender may pull from owner.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if grants, ok := t.allowances[owner]; ok {
		if amount, ok := grants[spender]; ok {
			return new(big.Int).Set(amount)
		}
	}
	return new(big.Int)
}

// Mint credits freshly issued units to owner.
func (t *Token) Mint(owner common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(owner, amount)
	t.totalSupply.Add(t.totalSupply, amount)
	return nil
}

// Burn destroys units held by owner.
func (t *Token) Burn(owner common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(owner, amount); err != nil {
		return err
	}
	t.totalSupply.Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves units between accounts.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

// Approve sets spender's allowance over owner's funds to exactly amount.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "allowance cannot be negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	grants, ok := t.allowances[owner]
	if !ok {
		grants = make(map[common.Address]*big.Int)
		t.allowances[owner] = grants
	}
	grants[spender] = new(big.Int).Set(amount)
	return nil
}

// TransferFrom moves units from an owner on behalf of spender, consuming
// allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	grants := t.allowances[from]
	current, ok := grants[spender]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := t.debit(from, amount); err != nil {
		return err
	}
	current.Sub(current, amount)
	t.credit(to, amount)
	return nil
}

// Call dispatches ABI-encoded token operations. The caller of the operation
// acts as the token owner for approve/transfer and as the spender for
// transferFrom.
func (t *Token) Call(_ context.Context, call host.Call) ([]byte, error) {
	if len(call.Payload) < 4 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token call payload too short")
	}
	method, err := tokenABI.MethodById(call.Payload[:4])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unknown token method")
	}
	args, err := method.Inputs.Unpack(call.Args())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unpack token arguments")
	}

	switch method.Name {
	case "approve":
		spender := args[0].(common.Address)
		amount := args[1].(*big.Int)
		if err := t.Approve(call.Caller, spender, amount); err != nil {
			return nil, err
		}
	case "transfer":
		to := args[0].(common.Address)
		amount := args[1].(*big.Int)
		if err := t.Transfer(call.Caller, to, amount); err != nil {
			return nil, err
		}
	case "transferFrom":
		from := args[0].(common.Address)
		to := args[1].(common.Address)
		amount := args[2].(*big.Int)
		if err := t.TransferFrom(call.Caller, from, to, amount); err != nil {
			return nil, err
		}
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported token method "+method.Name)
	}
	return method.Outputs.Pack(true)
}

type snapshot struct {
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
}

// Snapshot captures the full ledger state.
func (t *Token) Snapshot() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := snapshot{
		totalSupply: new(big.Int).Set(t.totalSupply),
		balances:    make(map[common.Address]*big.Int, len(t.balances)),
		allowances:  make(map[common.Address]map[common.Address]*big.Int, len(t.allowances)),
	}
	for owner, bal := range t.balances {
		snap.balances[owner] = new(big.Int).Set(bal)
	}
	for owner, grants := range t.allowances {
		cloned := make(map[common.Address]*big.Int, len(grants))
		for spender, amount := range grants {
			cloned[spender] = new(big.Int).Set(amount)
		}
		snap.allowances[owner] = cloned
	}
	return snap
}

// Restore rewinds the ledger to a captured snapshot.
func (t *Token) Restore(state any) {
	snap, ok := state.(snapshot)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalSupply = new(big.Int).Set(snap.totalSupply)
	t.balances = make(map[common.Address]*big.Int, len(snap.balances))
	for owner, bal := range snap.balances {
		t.balances[owner] = new(big.Int).Set(bal)
	}
	t.allowances = make(map[common.Address]map[common.Address]*big.Int, len(snap.allowances))
	for owner, grants := range snap.allowances {
		cloned := make(map[common.Address]*big.Int, len(grants))
		for spender, amount := range grants {
			cloned[spender] = new(big.Int).Set(amount)
		}
		t.allowances[owner] = cloned
	}
}

func (t *Token) credit(owner common.Address, amount *big.Int) {
	if bal, ok := t.balances[owner]; ok {
		bal.Add(bal, amount)
		return
	}
	t.balances[owner] = new(big.Int).Set(amount)
}

func (t *Token) debit(owner common.Address, amount *big.Int) error {
	bal, ok := t.balances[owner]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "amount must be positive")
	}
	return nil
}
