// Package collector defines the metric producer capability and the registry
// the monitor loop polls.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/perfwatch/perfwatch/internal/monitoring/model"
)

// Collector produces metric points when polled. Implementations are called
// repeatedly on a fixed period and must honor ctx; errors are caught by the
// monitor loop and never crash it.
type Collector interface {
	Name() string
	Description() string
	Collect(ctx context.Context) ([]model.MetricPoint, error)
}

// ErrDuplicateCollector indicates a collector name is already registered.
var ErrDuplicateCollector = errors.New("duplicate collector name")

// Info is the read-only registry view exposed at /api/collectors.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type entry struct {
	collector Collector
	enabled   bool
}

// Registry tracks registered collectors and their enablement.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a collector, enabled by default. Duplicate names are
// rejected synchronously.
func (r *Registry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCollector, c.Name())
	}
	r.entries[c.Name()] = &entry{collector: c, enabled: true}
	r.order = append(r.order, c.Name())
	return nil
}

// SetEnabled toggles a collector. Unknown names are ignored.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.enabled = enabled
	}
}

// Enabled returns the enabled collectors in registration order.
func (r *Registry) Enabled() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collector, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e.enabled {
			out = append(out, e.collector)
		}
	}
	return out
}

// List returns metadata for all collectors, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, Info{Name: name, Description: e.collector.Description(), Enabled: e.enabled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
