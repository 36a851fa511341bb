package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Entry pairs an adapter with the organization its workspace belongs to.
type Entry struct {
	Adapter        Adapter
	OrganizationID uuid.UUID
}

// Registry is the single owner of long-lived adapter instances. It manages
// their lifecycle as a unit: Initialize starts every configured adapter,
// Cleanup tears them all down, Reinitialize cycles them after a config change.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds an adapter under its platform name. Unconfigured adapters are
// skipped so a half-set environment does not break the rest.
func (r *Registry) Register(adapter Adapter, orgID uuid.UUID) {
	if !adapter.IsConfigured() {
		slog.Info("skipping unconfigured platform", "platform", adapter.Name())
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[adapter.Name()] = &Entry{Adapter: adapter, OrganizationID: orgID}
}

// Get returns the entry for a platform name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// All returns a snapshot of every registered entry.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Initialize starts every registered adapter. A platform that fails to start
// is logged and removed rather than failing the rest.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return fmt.Errorf("no platforms configured")
	}

	for name, e := range r.entries {
		slog.Info("initializing platform", "platform", name, "socket_mode", e.Adapter.IsSocketMode())
		if err := e.Adapter.Initialize(ctx); err != nil {
			slog.Error("platform initialization failed", "platform", name, "error", err)
			delete(r.entries, name)
		}
	}
	if len(r.entries) == 0 {
		return fmt.Errorf("all platforms failed to initialize")
	}
	return nil
}

// Cleanup stops every adapter. Errors are logged, not returned; shutdown
// must always complete.
func (r *Registry) Cleanup(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if err := e.Adapter.Cleanup(ctx); err != nil {
			slog.Error("platform cleanup failed", "platform", name, "error", err)
		}
	}
}

// Reinitialize cycles all adapters: cleanup, then initialize again.
func (r *Registry) Reinitialize(ctx context.Context) error {
	r.Cleanup(ctx)
	return r.Initialize(ctx)
}
