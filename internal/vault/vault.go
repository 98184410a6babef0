package vault

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
	"VaultChain/internal/token"
)

const (
	CodePaused                = "VAULT_PAUSED"
	CodeAlreadyInitialized    = "VAULT_ALREADY_INITIALIZED"
	CodeNotInitialized        = "VAULT_NOT_INITIALIZED"
	CodeInsufficientClaimable = "VAULT_INSUFFICIENT_CLAIMABLE"
	CodeRedeemExceedsMax      = "VAULT_REDEEM_EXCEEDS_MAX"
	CodeDeltaExceeded         = "VAULT_DELTA_EXCEEDED"
	CodeInvalidBps            = "VAULT_INVALID_BPS"
)

func init() {
	xerrors.Register(CodePaused, xerrors.Attributes{
		Message:  "vault is paused",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAlreadyInitialized, xerrors.Attributes{
		Message:  "vault is already initialised",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNotInitialized, xerrors.Attributes{
		Message:  "vault is not initialised",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInsufficientClaimable, xerrors.Attributes{
		Message:  "claim exceeds the controller's claimable amount",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRedeemExceedsMax, xerrors.Attributes{
		Message:  "redemption exceeds the controller's redeemable maximum",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDeltaExceeded, xerrors.Attributes{
		Message:  "settlement moves the accounted total beyond the allowed delta",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeInvalidBps, xerrors.Attributes{
		Message:  "basis-point value out of range",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	ErrPaused                = xerrors.New(CodePaused, "")
	ErrAlreadyInitialized    = xerrors.New(CodeAlreadyInitialized, "")
	ErrNotInitialized        = xerrors.New(CodeNotInitialized, "")
	ErrInsufficientClaimable = xerrors.New(CodeInsufficientClaimable, "")
	ErrRedeemExceedsMax      = xerrors.New(CodeRedeemExceedsMax, "")
	ErrDeltaExceeded         = xerrors.New(CodeDeltaExceeded, "")
	ErrInvalidBps            = xerrors.New(CodeInvalidBps, "")
)

const bpsDenominator = 10_000

// Vault is the custody ledger. Its accounted total is maintained explicitly
// and is decoupled from the physical balance held at the vault address:
// deposits and redemptions move it by exact transfer amounts, settlements set
// it directly under the delta guard, and chain runs never touch it.
type Vault struct {
	name   string
	addr   common.Address
	asset  *token.Token
	shares *token.Token

	mu           sync.Mutex
	initialized  bool
	virtualTotal *big.Int
	merkleRoot   common.Hash
	paused       bool
	maxDeltaBps  uint64
	requests     *RequestLedger
}

// NewVault constructs an uninitialised vault over the given asset and share
// ledgers. Operations fail until Initialize is called.
func NewVault(name string, asset, shares *token.Token) *Vault {
	return &Vault{
		name:         name,
		addr:         host.DeriveAddress("vault/" + name),
		asset:        asset,
		shares:       shares,
		virtualTotal: new(big.Int),
		requests:     NewRequestLedger(),
	}
}

// Initialize opens the vault for business. It may be called exactly once.
func (v *Vault) Initialize(maxDeltaBps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialized {
		return ErrAlreadyInitialized
	}
	if maxDeltaBps > bpsDenominator {
		return ErrInvalidBps
	}
	v.initialized = true
	v.maxDeltaBps = maxDeltaBps
	return nil
}

// Name returns the vault's configured name.
func (v *Vault) Name() string { return v.name }

// Address returns the custody address holding idle capital and escrow.
func (v *Vault) Address() common.Address { return v.addr }

// Asset returns the custody asset ledger.
func (v *Vault) Asset() *token.Token { return v.asset }

// Shares returns the vault share ledger.
func (v *Vault) Shares() *token.Token { return v.shares }

func (v *Vault) requireOpen() error {
	if !v.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (v *Vault) requireUnpaused() error {
	if v.paused {
		return ErrPaused
	}
	return nil
}

// RequestDeposit escrows assets from the controller and fulfills the request
// in the same call: the amount becomes claimable immediately. The accounted
// total does not move until the claim.
func (v *Vault) RequestDeposit(controller common.Address, assets *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if err := v.requireUnpaused(); err != nil {
		return err
	}
	if assets == nil || assets.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "deposit request amount must be positive")
	}
	if err := v.asset.Transfer(controller, v.addr, assets); err != nil {
		return err
	}
	v.requests.recordDeposit(controller, assets)
	v.requests.fulfillDeposit(controller, assets)
	return nil
}

// Deposit consumes a claimable deposit request and mints shares to the
// receiver. Share minting rounds down.
func (v *Vault) Deposit(controller, receiver common.Address, assets *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	if err := v.requireUnpaused(); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "deposit amount must be positive")
	}
	if v.requests.ClaimableDeposit(controller).Cmp(assets) < 0 {
		return nil, xerrors.Wrap(CodeInsufficientClaimable, ErrInsufficientClaimable,
			"claimable deposit below "+assets.String())
	}
	minted := v.convertToShares(assets)
	v.requests.consumeDeposit(controller, assets)
	if err := v.shares.Mint(receiver, minted); err != nil {
		return nil, err
	}
	v.virtualTotal.Add(v.virtualTotal, assets)
	v.fulfillPendingRedeems()
	return minted, nil
}

// Mint consumes a claimable deposit request sized to produce exactly the
// requested shares. The asset amount charged rounds up.
func (v *Vault) Mint(controller, receiver common.Address, sharesOut *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	if err := v.requireUnpaused(); err != nil {
		return nil, err
	}
	if sharesOut == nil || sharesOut.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "mint amount must be positive")
	}
	assets := v.convertToAssetsUp(sharesOut)
	if v.requests.ClaimableDeposit(controller).Cmp(assets) < 0 {
		return nil, xerrors.Wrap(CodeInsufficientClaimable, ErrInsufficientClaimable,
			"claimable deposit below "+assets.String())
	}
	v.requests.consumeDeposit(controller, assets)
	if err := v.shares.Mint(receiver, sharesOut); err != nil {
		return nil, err
	}
	v.virtualTotal.Add(v.virtualTotal, assets)
	v.fulfillPendingRedeems()
	return assets, nil
}

// RequestRedeem escrows shares from the controller. It stays pending until
// idle liquidity allows fulfillment and, unlike deposits, remains available
// while the vault is paused.
func (v *Vault) RequestRedeem(controller common.Address, sharesIn *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if sharesIn == nil || sharesIn.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "redeem request amount must be positive")
	}
	if err := v.shares.Transfer(controller, v.addr, sharesIn); err != nil {
		return err
	}
	v.requests.recordRedeem(controller, sharesIn)
	v.fulfillRedeemFor(controller)
	return nil
}

// Redeem consumes claimable redeem shares, burns the escrow and pays assets
// to the receiver. Asset payout rounds down and is bounded by MaxRedeem.
func (v *Vault) Redeem(controller, receiver common.Address, sharesIn *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	if err := v.requireUnpaused(); err != nil {
		return nil, err
	}
	if sharesIn == nil || sharesIn.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redeem amount must be positive")
	}
	if sharesIn.Cmp(v.maxRedeemLocked(controller)) > 0 {
		return nil, xerrors.Wrap(CodeRedeemExceedsMax, ErrRedeemExceedsMax,
			"requested "+sharesIn.String())
	}
	assets := v.convertToAssets(sharesIn)
	return v.payRedemption(controller, receiver, sharesIn, assets)
}

// Withdraw is the asset-denominated redemption: the share charge rounds up
// and the receiver is paid the exact asset amount.
func (v *Vault) Withdraw(controller, receiver common.Address, assets *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	if err := v.requireUnpaused(); err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "withdraw amount must be positive")
	}
	sharesIn := v.convertToSharesUp(assets)
	if sharesIn.Cmp(v.maxRedeemLocked(controller)) > 0 {
		return nil, xerrors.Wrap(CodeRedeemExceedsMax, ErrRedeemExceedsMax,
			"requires "+sharesIn.String()+" shares")
	}
	if _, err := v.payRedemption(controller, receiver, sharesIn, assets); err != nil {
		return nil, err
	}
	return sharesIn, nil
}

func (v *Vault) payRedemption(controller, receiver common.Address, sharesIn, assets *big.Int) (*big.Int, error) {
	v.requests.consumeRedeem(controller, sharesIn)
	if err := v.shares.Burn(v.addr, sharesIn); err != nil {
		return nil, err
	}
	if err := v.asset.Transfer(v.addr, receiver, assets); err != nil {
		return nil, err
	}
	v.virtualTotal.Sub(v.virtualTotal, assets)
	return assets, nil
}

// Settle sets the accounted total directly, bounded by the delta guard, and
// records the strategy-breakdown commitment. It remains available while
// paused. The guard is skipped when the current total is zero or the allowed
// delta is zero; draining to zero therefore re-opens an unguarded settlement,
// which is accepted policy here.
func (v *Vault) Settle(newTotal *big.Int, root common.Hash) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if newTotal == nil || newTotal.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "settled total must be non-negative")
	}
	if v.virtualTotal.Sign() != 0 && v.maxDeltaBps != 0 {
		diff := new(big.Int).Sub(newTotal, v.virtualTotal)
		diff.Abs(diff)
		deltaBps := diff.Mul(diff, big.NewInt(bpsDenominator))
		deltaBps.Div(deltaBps, v.virtualTotal)
		if deltaBps.Cmp(new(big.Int).SetUint64(v.maxDeltaBps)) > 0 {
			return xerrors.Wrap(CodeDeltaExceeded, ErrDeltaExceeded,
				"delta "+deltaBps.String()+" bps, allowed "+
					new(big.Int).SetUint64(v.maxDeltaBps).String())
		}
	}
	v.virtualTotal = new(big.Int).Set(newTotal)
	v.merkleRoot = root
	v.fulfillPendingRedeems()
	return nil
}

// SetMaxAllowedDelta updates the settlement guard. Zero disables it.
func (v *Vault) SetMaxAllowedDelta(bps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if bps > bpsDenominator {
		return ErrInvalidBps
	}
	v.maxDeltaBps = bps
	return nil
}

// Pause blocks deposit requests, deposit claims and redemptions. Redeem
// requests and settlement stay available.
func (v *Vault) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if v.paused {
		return xerrors.New(xerrors.CodeConflict, "vault is already paused")
	}
	v.paused = true
	return nil
}

// Unpause lifts the pause.
func (v *Vault) Unpause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if !v.paused {
		return xerrors.New(xerrors.CodeConflict, "vault is not paused")
	}
	v.paused = false
	return nil
}

// TotalAssets returns the accounted total.
func (v *Vault) TotalAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.virtualTotal)
}

// TotalIdle returns physically held assets minus outstanding deposit escrow.
func (v *Vault) TotalIdle() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalIdleLocked()
}

func (v *Vault) totalIdleLocked() *big.Int {
	idle := v.asset.BalanceOf(v.addr)
	idle.Sub(idle, v.requests.EscrowedAssets())
	if idle.Sign() < 0 {
		return new(big.Int)
	}
	return idle
}

// SharePrice returns the asset value of one whole share, scaled by the share
// token's decimals. Before any shares exist it is the bootstrap 1:1 price.
func (v *Vault) SharePrice() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(v.shares.Decimals())), nil)
	supply := v.shares.TotalSupply()
	if supply.Sign() == 0 || v.virtualTotal.Sign() == 0 {
		return unit
	}
	unit.Mul(unit, v.virtualTotal)
	return unit.Div(unit, supply)
}

// MaxRedeem returns the redemption ceiling for a controller: the lesser of
// the shares currently backed by idle liquidity and the controller's
// claimable redeem shares.
func (v *Vault) MaxRedeem(controller common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.maxRedeemLocked(controller)
}

func (v *Vault) maxRedeemLocked(controller common.Address) *big.Int {
	idleShares := v.convertToShares(v.totalIdleLocked())
	claimable := v.requests.ClaimableRedeem(controller)
	if claimable.Cmp(idleShares) < 0 {
		return claimable
	}
	return idleShares
}

// MerkleRoot returns the last settled strategy-breakdown commitment.
func (v *Vault) MerkleRoot() common.Hash {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.merkleRoot
}

// Paused reports the pause flag.
func (v *Vault) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// MaxAllowedDelta returns the settlement guard in basis points.
func (v *Vault) MaxAllowedDelta() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.maxDeltaBps
}

// PendingDeposit returns the controller's unfulfilled deposit amount.
func (v *Vault) PendingDeposit(controller common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.PendingDeposit(controller)
}

// ClaimableDeposit returns the controller's claimable deposit amount.
func (v *Vault) ClaimableDeposit(controller common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.ClaimableDeposit(controller)
}

// PendingRedeem returns the controller's unfulfilled redeem shares.
func (v *Vault) PendingRedeem(controller common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.PendingRedeem(controller)
}

// ClaimableRedeem returns the controller's claimable redeem shares.
func (v *Vault) ClaimableRedeem(controller common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests.ClaimableRedeem(controller)
}

// ConvertToShares converts an asset amount at the current share price,
// rounding down, with 1:1 bootstrap.
func (v *Vault) ConvertToShares(assets *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToShares(assets)
}

// ConvertToAssets converts a share amount at the current share price,
// rounding down, with 1:1 bootstrap.
func (v *Vault) ConvertToAssets(sharesIn *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convertToAssets(sharesIn)
}

func (v *Vault) convertToShares(assets *big.Int) *big.Int {
	supply := v.shares.TotalSupply()
	if supply.Sign() == 0 || v.virtualTotal.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, supply)
	return out.Div(out, v.virtualTotal)
}

func (v *Vault) convertToSharesUp(assets *big.Int) *big.Int {
	supply := v.shares.TotalSupply()
	if supply.Sign() == 0 || v.virtualTotal.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, supply)
	out.Add(out, new(big.Int).Sub(v.virtualTotal, big.NewInt(1)))
	return out.Div(out, v.virtualTotal)
}

func (v *Vault) convertToAssets(sharesIn *big.Int) *big.Int {
	supply := v.shares.TotalSupply()
	if supply.Sign() == 0 || v.virtualTotal.Sign() == 0 {
		return new(big.Int).Set(sharesIn)
	}
	out := new(big.Int).Mul(sharesIn, v.virtualTotal)
	return out.Div(out, supply)
}

func (v *Vault) convertToAssetsUp(sharesIn *big.Int) *big.Int {
	supply := v.shares.TotalSupply()
	if supply.Sign() == 0 || v.virtualTotal.Sign() == 0 {
		return new(big.Int).Set(sharesIn)
	}
	out := new(big.Int).Mul(sharesIn, v.virtualTotal)
	out.Add(out, new(big.Int).Sub(supply, big.NewInt(1)))
	return out.Div(out, supply)
}

// fulfillRedeemFor moves the controller's pending redeem shares to claimable
// up to what idle liquidity currently backs, net of everything already
// promised to other controllers.
func (v *Vault) fulfillRedeemFor(controller common.Address) {
	pending := v.requests.PendingRedeem(controller)
	if pending.Sign() == 0 {
		return
	}
	available := v.convertToShares(v.totalIdleLocked())
	available.Sub(available, sum(v.requests.claimableRedeem))
	if available.Sign() <= 0 {
		return
	}
	if pending.Cmp(available) > 0 {
		pending = available
	}
	v.requests.fulfillRedeem(controller, pending)
}

func (v *Vault) fulfillPendingRedeems() {
	for _, controller := range v.requests.pendingRedeemers() {
		v.fulfillRedeemFor(controller)
	}
}

type vaultState struct {
	initialized  bool
	virtualTotal *big.Int
	merkleRoot   common.Hash
	paused       bool
	maxDeltaBps  uint64
	requests     *RequestLedger
}

// Snapshot captures the ledger for all-or-nothing rollback. Token balances
// are captured by the token ledgers' own snapshots.
func (v *Vault) Snapshot() any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return vaultState{
		initialized:  v.initialized,
		virtualTotal: new(big.Int).Set(v.virtualTotal),
		merkleRoot:   v.merkleRoot,
		paused:       v.paused,
		maxDeltaBps:  v.maxDeltaBps,
		requests:     v.requests.snapshot(),
	}
}

// Restore reinstates a snapshot taken by Snapshot.
func (v *Vault) Restore(state any) {
	snap, ok := state.(vaultState)
	if !ok {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initialized = snap.initialized
	v.virtualTotal = new(big.Int).Set(snap.virtualTotal)
	v.merkleRoot = snap.merkleRoot
	v.paused = snap.paused
	v.maxDeltaBps = snap.maxDeltaBps
	v.requests = snap.requests.snapshot()
}
