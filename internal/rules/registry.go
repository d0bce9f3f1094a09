package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lunaform/switchboard/internal/collab"
)

// StoreFactory builds the rule store for a tenant. Lets the registry stay
// agnostic of the persistence backend (file or database).
type StoreFactory func(tenant string) RuleStore

// Registry holds one engine per tenant, constructed on demand through the
// store factory. No ambient globals: every engine's dependencies arrive
// through the registry.
type Registry struct {
	factory StoreFactory
	collab  collab.Set
	log     *slog.Logger

	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates an empty registry.
func NewRegistry(factory StoreFactory, cs collab.Set, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		factory: factory,
		collab:  cs,
		log:     log,
		engines: make(map[string]*Engine),
	}
}

// Engine returns the tenant's engine, creating and loading it on first use.
func (r *Registry) Engine(tenant string) (*Engine, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant cannot be empty")
	}

	r.mu.RLock()
	en, ok := r.engines[tenant]
	r.mu.RUnlock()
	if ok {
		return en, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if en, ok := r.engines[tenant]; ok {
		return en, nil
	}

	en, err := NewEngine(tenant, r.factory(tenant), r.collab, r.log)
	if err != nil {
		return nil, fmt.Errorf("create engine for %s: %w", tenant, err)
	}
	r.engines[tenant] = en
	return en, nil
}

// Preload initializes engines for the configured tenants so that
// broadcast-style events see them before any tenant-scoped traffic.
func (r *Registry) Preload(ctx context.Context, tenants []string) error {
	for _, t := range tenants {
		if _, err := r.Engine(t); err != nil {
			return err
		}
	}
	return nil
}

// Tenants returns the known tenant names, sorted for deterministic
// broadcast evaluation order.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for t := range r.engines {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
