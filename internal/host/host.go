package host

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "VaultChain/internal/errors"
)

// Call describes one dispatched operation: who performs it, which target
// receives it and the ABI-encoded payload (4-byte selector plus packed
// arguments).
type Call struct {
	Caller  common.Address
	Target  common.Address
	Value   *big.Int
	Payload []byte
}

// Selector returns the leading 4 bytes of the payload, or zero when the
// payload is too short to carry one.
func (c Call) Selector() [4]byte {
	var sel [4]byte
	if len(c.Payload) >= 4 {
		copy(sel[:], c.Payload[:4])
	}
	return sel
}

// Args returns the packed argument bytes after the selector.
func (c Call) Args() []byte {
	if len(c.Payload) <= 4 {
		return nil
	}
	return c.Payload[4:]
}

// Callable is implemented by every in-process target that operations can be
// dispatched to: token ledgers, protocol adapters and the extensions
// themselves.
type Callable interface {
	Call(ctx context.Context, call Call) ([]byte, error)
}

// Snapshotter is implemented by mutable state that participates in
// all-or-nothing chain runs. Snapshot must return a value that Restore can
// later apply to roll every effect back.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}

var (
	ErrTargetConflict = xerrors.New(xerrors.CodeConflict, "target address already bound")
	ErrTargetUnknown  = xerrors.New(xerrors.CodeNotFound, "target address not bound")
)

// Router maps addresses to callables and aggregates the snapshotters that a
// chain run must be able to unwind.
type Router struct {
	mu           sync.RWMutex
	targets      map[common.Address]Callable
	snapshotters []Snapshotter
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{targets: make(map[common.Address]Callable)}
}

// Register binds a callable to an address. A callable that also implements
// Snapshotter is automatically enrolled in the rollback set.
func (r *Router) Register(addr common.Address, target Callable) error {
	if target == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "target cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[addr]; ok {
		return ErrTargetConflict
	}
	r.targets[addr] = target
	if snap, ok := target.(Snapshotter); ok {
		r.snapshotters = append(r.snapshotters, snap)
	}
	return nil
}

// Unregister removes the binding for an address. Snapshotters stay enrolled;
// restoring state that no longer receives calls is harmless.
func (r *Router) Unregister(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, addr)
}

// Enroll adds state to the rollback set without binding an address.
func (r *Router) Enroll(snap Snapshotter) {
	if snap == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotters = append(r.snapshotters, snap)
}

// Resolve returns the callable bound to addr.
func (r *Router) Resolve(addr common.Address) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	target, ok := r.targets[addr]
	return target, ok
}

// Addresses lists every bound address in a stable order.
func (r *Router) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]common.Address, 0, len(r.targets))
	for addr := range r.targets {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	return addrs
}

// Dispatch routes a call to its target.
func (r *Router) Dispatch(ctx context.Context, call Call) ([]byte, error) {
	target, ok := r.Resolve(call.Target)
	if !ok {
		return nil, xerrors.Wrap(xerrors.CodeNotFound, ErrTargetUnknown, "dispatch to "+call.Target.Hex())
	}
	return target.Call(ctx, call)
}

// Snapshot captures the state of every enrolled snapshotter.
func (r *Router) Snapshot() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps := make([]any, len(r.snapshotters))
	for i, snap := range r.snapshotters {
		snaps[i] = snap.Snapshot()
	}
	return snaps
}

// Restore rewinds every enrolled snapshotter to a previously captured state.
func (r *Router) Restore(snaps []any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, snap := range r.snapshotters {
		if i < len(snaps) {
			snap.Restore(snaps[i])
		}
	}
}

// DeriveAddress maps a stable identifier to a deterministic address, so
// extensions and simulated protocol targets get collision-free addresses
// without key management.
func DeriveAddress(id string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(id))[12:])
}
