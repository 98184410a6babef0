package protocol

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
	"VaultChain/internal/token"
)

const vaultABIJSON = `[
	{"type":"function","name":"deposit","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"type":"function","name":"redeem","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"assets","type":"uint256"}]}
]`

var vaultABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		panic("protocol: parse vault ABI: " + err.Error())
	}
	vaultABI = parsed
}

// VaultABI exposes the external-vault method set for payload packing.
func VaultABI() abi.ABI {
	return vaultABI
}

// PackDeposit encodes deposit(assets, receiver).
func PackDeposit(assets *big.Int, receiver common.Address) ([]byte, error) {
	return vaultABI.Pack("deposit", assets, receiver)
}

// PackRedeem encodes redeem(shares, receiver, owner).
func PackRedeem(shares *big.Int, receiver, owner common.Address) ([]byte, error) {
	return vaultABI.Pack("redeem", shares, receiver, owner)
}

// ExternalVault simulates an ERC4626-style yield vault: deposited assets sit
// at the vault address and shares are issued against them. Yield is modelled
// by minting extra assets to the vault (see Accrue), which raises the value
// every share redeems for. Production deployments replace this with an
// adapter speaking to the real protocol through the same callable surface.
type ExternalVault struct {
	id     string
	addr   common.Address
	asset  *token.Token
	shares *token.Token
}

// NewExternalVault creates a simulated vault over the given asset ledger.
func NewExternalVault(id string, asset *token.Token) *ExternalVault {
	return &ExternalVault{
		id:     id,
		addr:   host.DeriveAddress("protocol/" + id),
		asset:  asset,
		shares: token.New(id+" shares", id+"-s", asset.Decimals()),
	}
}

// ID returns the configured identifier.
func (v *ExternalVault) ID() string { return v.id }

// Address returns the dispatch address.
func (v *ExternalVault) Address() common.Address { return v.addr }

// ShareToken exposes the share ledger, used by extensions to measure
// balance deltas.
func (v *ExternalVault) ShareToken() *token.Token { return v.shares }

// TotalAssets returns the assets currently backing the shares.
func (v *ExternalVault) TotalAssets() *big.Int {
	return v.asset.BalanceOf(v.addr)
}

// Accrue simulates yield by minting assets directly to the vault.
func (v *ExternalVault) Accrue(amount *big.Int) error {
	return v.asset.Mint(v.addr, amount)
}

// Deposit pulls assets from depositor and issues shares to receiver.
func (v *ExternalVault) Deposit(depositor common.Address, assets *big.Int, receiver common.Address) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "deposit assets must be positive")
	}
	shares := v.convertToShares(assets)
	if err := v.asset.TransferFrom(v.addr, depositor, v.addr, assets); err != nil {
		return nil, err
	}
	if err := v.shares.Mint(receiver, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns owner's shares and pays assets to receiver. The simulation
// only supports owner-initiated redemption.
func (v *ExternalVault) Redeem(caller common.Address, sharesIn *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if sharesIn == nil || sharesIn.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redeem shares must be positive")
	}
	if caller != owner {
		return nil, xerrors.New(xerrors.CodePermissionDenied, "redeem requires the share owner")
	}
	assets := v.convertToAssets(sharesIn)
	if err := v.shares.Burn(owner, sharesIn); err != nil {
		return nil, err
	}
	if assets.Sign() > 0 {
		if err := v.asset.Transfer(v.addr, receiver, assets); err != nil {
			return nil, err
		}
	}
	return assets, nil
}

// Call dispatches ABI-encoded vault operations.
func (v *ExternalVault) Call(_ context.Context, call host.Call) ([]byte, error) {
	if len(call.Payload) < 4 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "vault call payload too short")
	}
	method, err := vaultABI.MethodById(call.Payload[:4])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unknown vault method")
	}
	args, err := method.Inputs.Unpack(call.Args())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "unpack vault arguments")
	}

	switch method.Name {
	case "deposit":
		shares, err := v.Deposit(call.Caller, args[0].(*big.Int), args[1].(common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(shares)
	case "redeem":
		assets, err := v.Redeem(call.Caller, args[0].(*big.Int), args[1].(common.Address), args[2].(common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(assets)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unsupported vault method "+method.Name)
	}
}

// Snapshot delegates to the private share ledger; deposited assets live in
// the shared asset ledger, which snapshots separately.
func (v *ExternalVault) Snapshot() any { return v.shares.Snapshot() }

// Restore rewinds the share ledger.
func (v *ExternalVault) Restore(state any) { v.shares.Restore(state) }

func (v *ExternalVault) convertToShares(assets *big.Int) *big.Int {
	supply := v.shares.TotalSupply()
	backing := v.asset.BalanceOf(v.addr)
	if supply.Sign() == 0 || backing.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, supply)
	return out.Div(out, backing)
}

func (v *ExternalVault) convertToAssets(shares *big.Int) *big.Int {
	supply := v.shares.TotalSupply()
	if supply.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(shares, v.asset.BalanceOf(v.addr))
	return out.Div(out, supply)
}
