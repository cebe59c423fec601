package workspace

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"greencheck-workspace/internal/shared/metrics"
	"greencheck-workspace/internal/shared/telemetry"
)

const purgeInterval = 10 * time.Minute

// ErrNoWorkspace is returned for an empty workspace id.
var ErrNoWorkspace = errors.New("workspace id is required")

// Factory builds the Controller for a new workspace id.
type Factory func(id string) (*Controller, error)

// Registry maps workspace ids to Controllers. Entries expire after ttl of
// inactivity; every lookup extends the lease.
type Registry struct {
	mu      sync.Mutex
	items   *cache.Cache
	ttl     time.Duration
	factory Factory
}

// NewRegistry constructs a Registry.
func NewRegistry(ttl time.Duration, factory Factory) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	items := cache.New(ttl, purgeInterval)
	items.OnEvicted(func(id string, v any) {
		if ctl, ok := v.(*Controller); ok {
			ctl.Close()
		}
		metrics.SetWorkspacesActive(items.ItemCount())
		telemetry.Info("workspace.evicted", map[string]any{"workspace_id": id})
	})
	return &Registry{items: items, ttl: ttl, factory: factory}
}

// Get returns the live Controller for id without creating one.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items.Get(id)
	if !ok {
		return nil, false
	}
	ctl := v.(*Controller)
	r.items.Set(id, ctl, cache.DefaultExpiration)
	return ctl, true
}

// GetOrCreate returns the Controller for id, building it on first use. The
// bool reports whether it was created by this call.
func (r *Registry) GetOrCreate(id string) (*Controller, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, ErrNoWorkspace
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.items.Get(id); ok {
		ctl := v.(*Controller)
		r.items.Set(id, ctl, cache.DefaultExpiration)
		return ctl, false, nil
	}

	ctl, err := r.factory(id)
	if err != nil {
		return nil, false, err
	}
	r.items.Set(id, ctl, cache.DefaultExpiration)
	metrics.SetWorkspacesActive(r.items.ItemCount())
	telemetry.Info("workspace.created", map[string]any{"workspace_id": id})
	return ctl, true, nil
}

// Remove ends a workspace immediately.
func (r *Registry) Remove(id string) {
	r.items.Delete(id)
}

// Len reports the number of live workspaces.
func (r *Registry) Len() int {
	return r.items.ItemCount()
}
