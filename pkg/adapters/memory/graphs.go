package memory

import (
	"context"
	"sync"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
)

// GraphStore implements ports.GraphStore in memory.
// Programs are immutable once compiled, so they are shared, not copied.
type GraphStore struct {
	mu       sync.RWMutex
	programs map[string]*domain.Program
}

var _ ports.GraphStore = (*GraphStore)(nil)

// NewGraphStore creates an empty graph store.
func NewGraphStore(programs ...*domain.Program) *GraphStore {
	g := &GraphStore{programs: make(map[string]*domain.Program)}
	for _, p := range programs {
		g.programs[p.ProcessID] = p
	}
	return g
}

// Activate replaces the active program of p.ProcessID.
func (g *GraphStore) Activate(ctx context.Context, p *domain.Program) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.programs[p.ProcessID] = p
	return nil
}

// Load returns the active program of processID.
func (g *GraphStore) Load(ctx context.Context, processID string) (*domain.Program, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.programs[processID]
	if !ok {
		return nil, domain.ErrGraphNotFound
	}
	return p, nil
}
