package driver

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/quay/zlog"
)

// Registry is an ordered set of adapters for one group.
//
// It is a plain value the orchestrator takes as a dependency; there is no
// package-level mutable registry.
type Registry struct {
	group    Group
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry for the named group.
func NewRegistry(g Group) *Registry {
	return &Registry{
		group:    g,
		adapters: make(map[string]Adapter),
	}
}

// Add registers an adapter. Re-registering a name or registering an adapter
// of the wrong group is an error.
func (r *Registry) Add(a Adapter) error {
	if a.Group() != r.group {
		return fmt.Errorf("adapter %q is of group %q, registry is %q", a.Name(), a.Group(), r.group)
	}
	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("adapter %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// MustAdd is Add, panicking on error. For use in static constructors.
func (r *Registry) MustAdd(a Adapter) {
	if err := r.Add(a); err != nil {
		panic(err)
	}
}

// Group reports which group the registry holds.
func (r *Registry) Group() Group { return r.group }

// Get returns the named adapter, or nil.
func (r *Registry) Get(name string) Adapter { return r.adapters[name] }

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Configure calls Configure on every registered adapter implementing
// Configurable, with its entry from cfg.
func (r *Registry) Configure(ctx context.Context, cfg map[string]ConfigUnmarshaler, c *http.Client) error {
	if c == nil {
		c = http.DefaultClient
	}
	for _, name := range r.Names() {
		ev := zlog.Debug(ctx).
			Str("adapter", name)
		f, ok := r.adapters[name].(Configurable)
		if !ok {
			ev.Msg("adapter unconfigurable")
			continue
		}
		ev.Msg("configuring adapter")
		cf := cfg[name]
		if cf == nil {
			cf = func(interface{}) error { return nil }
		}
		if err := f.Configure(ctx, cf, c); err != nil {
			return fmt.Errorf("failed to configure adapter %q: %w", name, err)
		}
	}
	return nil
}
