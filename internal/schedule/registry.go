package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"taskguidance/internal/action"
)

var ErrUnknownAction = errors.New("unknown action")

// Factory builds a fresh action for one submission. Actions are single use:
// every tick submits a new one.
type Factory func() action.Action

// Registry maps action names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("action name required")
	}
	if f == nil {
		return fmt.Errorf("action %q: nil factory", name)
	}
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
	return nil
}

// Build returns a new action for name.
func (r *Registry) Build(name string) (action.Action, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	a := f()
	if a == nil {
		return nil, fmt.Errorf("action %q: factory returned nil", name)
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
