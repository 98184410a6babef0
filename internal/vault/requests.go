package vault

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// RequestLedger tracks per-controller pending and claimable request
// magnitudes: deposit requests in asset units, redeem requests in share
// units. It carries no lock of its own; the owning Vault serialises access.
type RequestLedger struct {
	pendingDeposit   map[common.Address]*big.Int
	claimableDeposit map[common.Address]*big.Int
	pendingRedeem    map[common.Address]*big.Int
	claimableRedeem  map[common.Address]*big.Int
}

// NewRequestLedger constructs an empty ledger.
func NewRequestLedger() *RequestLedger {
	return &RequestLedger{
		pendingDeposit:   make(map[common.Address]*big.Int),
		claimableDeposit: make(map[common.Address]*big.Int),
		pendingRedeem:    make(map[common.Address]*big.Int),
		claimableRedeem:  make(map[common.Address]*big.Int),
	}
}

func get(m map[common.Address]*big.Int, key common.Address) *big.Int {
	if v, ok := m[key]; ok {
		return v
	}
	return new(big.Int)
}

func add(m map[common.Address]*big.Int, key common.Address, amount *big.Int) {
	m[key] = new(big.Int).Add(get(m, key), amount)
}

func sub(m map[common.Address]*big.Int, key common.Address, amount *big.Int) {
	next := new(big.Int).Sub(get(m, key), amount)
	if next.Sign() == 0 {
		delete(m, key)
		return
	}
	m[key] = next
}

func sum(m map[common.Address]*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range m {
		total.Add(total, v)
	}
	return total
}

// PendingDeposit returns the controller's unfulfilled deposit request amount.
func (l *RequestLedger) PendingDeposit(controller common.Address) *big.Int {
	return new(big.Int).Set(get(l.pendingDeposit, controller))
}

// ClaimableDeposit returns the controller's fulfilled, not-yet-claimed
// deposit request amount.
func (l *RequestLedger) ClaimableDeposit(controller common.Address) *big.Int {
	return new(big.Int).Set(get(l.claimableDeposit, controller))
}

// PendingRedeem returns the controller's unfulfilled redeem request shares.
func (l *RequestLedger) PendingRedeem(controller common.Address) *big.Int {
	return new(big.Int).Set(get(l.pendingRedeem, controller))
}

// ClaimableRedeem returns the controller's fulfilled, not-yet-claimed redeem
// request shares.
func (l *RequestLedger) ClaimableRedeem(controller common.Address) *big.Int {
	return new(big.Int).Set(get(l.claimableRedeem, controller))
}

// EscrowedAssets is the total asset amount held for outstanding deposit
// requests, pending plus claimable, across every controller.
func (l *RequestLedger) EscrowedAssets() *big.Int {
	return new(big.Int).Add(sum(l.pendingDeposit), sum(l.claimableDeposit))
}

// EscrowedShares is the total share amount held for outstanding redeem
// requests, pending plus claimable, across every controller.
func (l *RequestLedger) EscrowedShares() *big.Int {
	return new(big.Int).Add(sum(l.pendingRedeem), sum(l.claimableRedeem))
}

func (l *RequestLedger) recordDeposit(controller common.Address, assets *big.Int) {
	add(l.pendingDeposit, controller, assets)
}

func (l *RequestLedger) fulfillDeposit(controller common.Address, assets *big.Int) {
	sub(l.pendingDeposit, controller, assets)
	add(l.claimableDeposit, controller, assets)
}

func (l *RequestLedger) consumeDeposit(controller common.Address, assets *big.Int) {
	sub(l.claimableDeposit, controller, assets)
}

func (l *RequestLedger) recordRedeem(controller common.Address, shares *big.Int) {
	add(l.pendingRedeem, controller, shares)
}

func (l *RequestLedger) fulfillRedeem(controller common.Address, shares *big.Int) {
	sub(l.pendingRedeem, controller, shares)
	add(l.claimableRedeem, controller, shares)
}

func (l *RequestLedger) consumeRedeem(controller common.Address, shares *big.Int) {
	sub(l.claimableRedeem, controller, shares)
}

// pendingRedeemers lists controllers with unfulfilled redeem requests in a
// stable order, so fulfillment passes after settlement are deterministic.
func (l *RequestLedger) pendingRedeemers() []common.Address {
	out := make([]common.Address, 0, len(l.pendingRedeem))
	for controller := range l.pendingRedeem {
		out = append(out, controller)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

func cloneAmounts(m map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(m))
	for k, v := range m {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func (l *RequestLedger) snapshot() *RequestLedger {
	return &RequestLedger{
		pendingDeposit:   cloneAmounts(l.pendingDeposit),
		claimableDeposit: cloneAmounts(l.claimableDeposit),
		pendingRedeem:    cloneAmounts(l.pendingRedeem),
		claimableRedeem:  cloneAmounts(l.claimableRedeem),
	}
}
