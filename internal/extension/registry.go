package extension

import (
	"context"
	"sort"
	"sync"

	"VaultChain/internal/auth"
	"VaultChain/internal/chain"
	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/host"
)

// Registry holds the installed extension modules and binds them into the host
// router. Install and Uninstall are privileged; lookups are not.
type Registry struct {
	checker auth.Checker
	router  *host.Router

	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry constructs an empty registry gated by checker.
func NewRegistry(checker auth.Checker, router *host.Router) *Registry {
	return &Registry{
		checker: checker,
		router:  router,
		modules: make(map[string]Module),
	}
}

// Install registers a module under its identifier and exposes it as a
// dispatch target. Installing over an existing identifier fails.
func (r *Registry) Install(ctx context.Context, module Module) error {
	if err := auth.Require(ctx, r.checker, auth.CapabilityAdminister); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := module.ID()
	if _, exists := r.modules[id]; exists {
		return xerrors.New(xerrors.CodeConflict, "extension "+id+" is already installed")
	}
	if err := r.router.Register(module.Address(), module); err != nil {
		return xerrors.Wrap(xerrors.CodeConflict, err, "bind extension "+id)
	}
	r.modules[id] = module
	return nil
}

// Uninstall removes a module and unbinds its dispatch address.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	if err := auth.Require(ctx, r.checker, auth.CapabilityAdminister); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	module, exists := r.modules[id]
	if !exists {
		return xerrors.Wrap(xerrors.CodeNotFound, chain.ErrUnknownExtension, id)
	}
	r.router.Unregister(module.Address())
	delete(r.modules, id)
	return nil
}

// Get resolves a module by identifier.
func (r *Registry) Get(id string) (chain.Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, ok := r.modules[id]
	if !ok {
		return nil, false
	}
	return module, true
}

// List returns the installed identifiers in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
