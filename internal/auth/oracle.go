package auth

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
)

const (
	CodeCallRejected xerrors.Code = "AUTH_CALL_REJECTED"
)

func init() {
	xerrors.Register(CodeCallRejected, xerrors.Attributes{
		Message:  "operation rejected by authorization oracle",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// ErrCallRejected is returned when the oracle refuses an operation.
var ErrCallRejected = xerrors.New(CodeCallRejected, "")

// Oracle is consulted once per operation before dispatch with the target,
// the 4-byte discriminator and the encoded arguments. A non-nil error vetoes
// the whole chain run.
type Oracle interface {
	Authorize(ctx context.Context, call host.Call) error
}

// PermitAll approves every operation. Development use only.
type PermitAll struct{}

// Authorize implements Oracle.
func (PermitAll) Authorize(context.Context, host.Call) error { return nil }

// RuleOracle approves operations against an explicit (target, selector)
// allow-list. A rule with no selectors admits every method on its target.
type RuleOracle struct {
	mu    sync.RWMutex
	rules map[common.Address]map[[4]byte]struct{}
}

// NewRuleOracle constructs an empty rule oracle; it denies everything until
// rules are added.
func NewRuleOracle() *RuleOracle {
	return &RuleOracle{rules: make(map[common.Address]map[[4]byte]struct{})}
}

// Allow admits the given selectors on target. With no selectors the whole
// target is admitted.
func (o *RuleOracle) Allow(target common.Address, selectors ...[4]byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	set, ok := o.rules[target]
	if !ok {
		set = make(map[[4]byte]struct{})
		o.rules[target] = set
	}
	for _, sel := range selectors {
		set[sel] = struct{}{}
	}
}

// Forbid removes a target from the allow-list entirely.
func (o *RuleOracle) Forbid(target common.Address) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.rules, target)
}

// Authorize implements Oracle.
func (o *RuleOracle) Authorize(_ context.Context, call host.Call) error {
	o.mu.RLock()
	set, ok := o.rules[call.Target]
	o.mu.RUnlock()
	if !ok {
		return xerrors.Wrap(CodeCallRejected, ErrCallRejected, "target "+call.Target.Hex()+" not allow-listed")
	}
	if len(set) == 0 {
		return nil
	}
	sel := call.Selector()
	o.mu.RLock()
	_, selOK := set[sel]
	o.mu.RUnlock()
	if !selOK {
		return xerrors.Wrap(CodeCallRejected, ErrCallRejected,
			"selector 0x"+hex.EncodeToString(sel[:])+" not allow-listed on "+call.Target.Hex())
	}
	return nil
}
