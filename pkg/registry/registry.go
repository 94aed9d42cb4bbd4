// Package registry holds the actions available to action nodes.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/flowbot/pkg/domain"
)

// Request is what an action receives.
type Request struct {
	SessionID string
	NodeID    string
	Args      map[string]any
	Variables domain.Variables
}

// Result is what an action returns. Variables are merged into the session and
// Messages are sent as text messages.
type Result struct {
	Variables domain.Variables
	Messages  []string
}

// ActionFunc defines the signature of an action implementation.
type ActionFunc func(ctx context.Context, req Request) (Result, error)

// Registry manages the available actions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]ActionFunc),
	}
}

// Register adds an action to the registry.
// If an action with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up an action by name and executes it.
// Returns an error if the action is not found.
func (r *Registry) Execute(ctx context.Context, name string, req Request) (Result, error) {
	r.mu.RLock()
	fn, ok := r.actions[name]
	r.mu.RUnlock()

	if !ok {
		return Result{}, fmt.Errorf("action not found: %s", name)
	}

	return fn(ctx, req)
}
