package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	xerrors "VaultChain/internal/errors"
)

// Capability names a privileged action on the engine.
type Capability string

const (
	CapabilityExecute    Capability = "execute"
	CapabilitySettle     Capability = "settle"
	CapabilityPause      Capability = "pause"
	CapabilityAdminister Capability = "administer"
)

const (
	CodeMissingIdentity xerrors.Code = "AUTH_MISSING_IDENTITY"
)

func init() {
	xerrors.Register(CodeMissingIdentity, xerrors.Attributes{
		Message:  "caller identity missing from context",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	ErrPermissionDenied = xerrors.New(xerrors.CodePermissionDenied, "")
	ErrMissingIdentity  = xerrors.New(CodeMissingIdentity, "")
)

// Checker is the capability gate consulted before privileged operations.
// Implementations must be safe for concurrent use.
type Checker interface {
	Allows(ctx context.Context, identity string, capability Capability) bool
}

// Require resolves the caller identity from ctx and checks the capability.
func Require(ctx context.Context, checker Checker, capability Capability) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ErrMissingIdentity
	}
	if checker == nil || !checker.Allows(ctx, identity, capability) {
		return xerrors.Wrap(xerrors.CodePermissionDenied, ErrPermissionDenied,
			"identity "+identity+" lacks capability "+string(capability))
	}
	return nil
}

// Grant seeds a memory checker with capabilities for one identity.
type Grant struct {
	Identity     string
	Capabilities []Capability
}

// MemoryChecker keeps capability grants in memory, seeded from configuration.
type MemoryChecker struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]struct{}
}

// NewMemoryChecker builds a checker from seed grants.
func NewMemoryChecker(seeds []Grant) *MemoryChecker {
	checker := &MemoryChecker{grants: make(map[string]map[Capability]struct{})}
	for _, seed := range seeds {
		for _, capability := range seed.Capabilities {
			checker.Grant(seed.Identity, capability)
		}
	}
	return checker
}

// Grant adds a capability for an identity.
func (c *MemoryChecker) Grant(identity string, capability Capability) {
	identity = strings.TrimSpace(identity)
	if identity == "" || capability == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	caps, ok := c.grants[identity]
	if !ok {
		caps = make(map[Capability]struct{})
		c.grants[identity] = caps
	}
	caps[capability] = struct{}{}
}

// Revoke removes a capability from an identity.
func (c *MemoryChecker) Revoke(identity string, capability Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caps, ok := c.grants[identity]; ok {
		delete(caps, capability)
	}
}

// Allows implements Checker.
func (c *MemoryChecker) Allows(_ context.Context, identity string, capability Capability) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	caps, ok := c.grants[identity]
	if !ok {
		return false
	}
	_, ok = caps[capability]
	return ok
}

// CapabilitiesOf lists the capabilities granted to an identity.
func (c *MemoryChecker) CapabilitiesOf(identity string) []Capability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	caps := make([]Capability, 0, len(c.grants[identity]))
	for capability := range c.grants[identity] {
		caps = append(caps, capability)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}
