package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// GraphStore implements ports.GraphStore using Redis, one JSON document per bot.
type GraphStore struct {
	client *backend.Client
	prefix string
}

var _ ports.GraphStore = (*GraphStore)(nil)

// NewGraphStore creates a graph store sharing the session store's client.
func NewGraphStore(client *backend.Client, prefix string) *GraphStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &GraphStore{client: client, prefix: prefix}
}

type programRecord struct {
	UserID      string                            `json:"user_id"`
	ProcessID   string                            `json:"standard_process_id"`
	EntryNodeID string                            `json:"entry_node_id"`
	Nodes       map[string]domain.Node            `json:"nodes"`
	Links       map[string]domain.Edge            `json:"links"`
	Options     domain.OptionsByNode              `json:"options"`
	Branches    map[string]map[string]domain.Edge `json:"branch_edges,omitempty"`
	CompiledAt  time.Time                         `json:"compiled_at"`
}

func (g *GraphStore) key(processID string) string {
	return g.prefix + "graph:" + processID
}

// Activate replaces the program of p.ProcessID with a single SET.
func (g *GraphStore) Activate(ctx context.Context, p *domain.Program) error {
	data, err := json.Marshal(programRecord{
		UserID:      p.UserID,
		ProcessID:   p.ProcessID,
		EntryNodeID: p.EntryNodeID,
		Nodes:       p.Nodes,
		Links:       p.Links,
		Options:     p.Options,
		Branches:    p.BranchEdges,
		CompiledAt:  p.CompiledAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal program: %w", err)
	}
	if err := g.client.Set(ctx, g.key(p.ProcessID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	return nil
}

// Load decodes the active program of processID.
func (g *GraphStore) Load(ctx context.Context, processID string) (*domain.Program, error) {
	data, err := g.client.Get(ctx, g.key(processID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrGraphNotFound
		}
		return nil, fmt.Errorf("failed to get program: %w", err)
	}

	var rec programRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal program: %w", err)
	}
	return &domain.Program{
		UserID:      rec.UserID,
		ProcessID:   rec.ProcessID,
		EntryNodeID: rec.EntryNodeID,
		Nodes:       rec.Nodes,
		Links:       rec.Links,
		Options:     rec.Options,
		BranchEdges: rec.Branches,
		CompiledAt:  rec.CompiledAt,
	}, nil
}
