package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GraphStore implements ports.GraphStore.
type GraphStore struct {
	db *pgxpool.Pool
}

var _ ports.GraphStore = (*GraphStore)(nil)

// Activate replaces the program of p.ProcessID in one transaction.
func (s *GraphStore) Activate(ctx context.Context, p *domain.Program) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Replace semantics: children cascade.
	if _, err := tx.Exec(ctx, `DELETE FROM flow_programs WHERE standard_process_id = $1`, p.ProcessID); err != nil {
		return fmt.Errorf("postgres: delete program: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO flow_programs (standard_process_id, user_id, entry_node_id, compiled_at) VALUES ($1, $2, $3, $4)`,
		p.ProcessID, p.UserID, p.EntryNodeID, p.CompiledAt,
	); err != nil {
		return fmt.Errorf("postgres: insert program: %w", err)
	}

	batch := &pgx.Batch{}

	for _, n := range p.NodeList() {
		position, err := json.Marshal(n.Position)
		if err != nil {
			return fmt.Errorf("postgres: marshal node %s: %w", n.ID, err)
		}
		data, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("postgres: marshal node %s: %w", n.ID, err)
		}
		batch.Queue(
			`INSERT INTO flow_nodes (standard_process_id, id, type, position, data) VALUES ($1, $2, $3, $4, $5)`,
			p.ProcessID, n.ID, string(n.Type), string(position), string(data),
		)
	}

	const insertEdge = `INSERT INTO flow_edges
		(standard_process_id, id, source, target, source_handle, type, style, marker_end, user_id, branch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for source, e := range p.Links {
		batch.Queue(insertEdge,
			p.ProcessID, e.ID, source, e.Target, e.SourceHandle, e.Type, rawText(e.Style), rawText(e.MarkerEnd), e.UserID, false,
		)
	}
	for source, byHandle := range p.BranchEdges {
		for handle, e := range byHandle {
			batch.Queue(insertEdge,
				p.ProcessID, e.ID, source, e.Target, handle, e.Type, rawText(e.Style), rawText(e.MarkerEnd), e.UserID, true,
			)
		}
	}

	for _, widget := range p.Options.NodeIDs() {
		for i, opt := range p.Options[widget] {
			batch.Queue(
				`INSERT INTO flow_options (standard_process_id, widget_id, position, value, operator, next) VALUES ($1, $2, $3, $4, $5, $6)`,
				p.ProcessID, widget, i, opt.Value, string(opt.Operator), opt.Next,
			)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert routing table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Load rebuilds the active program of processID.
func (s *GraphStore) Load(ctx context.Context, processID string) (*domain.Program, error) {
	p := &domain.Program{
		ProcessID: processID,
		Nodes:     make(map[string]domain.Node),
		Links:     make(map[string]domain.Edge),
		Options:   make(domain.OptionsByNode),
	}

	err := s.db.QueryRow(ctx,
		`SELECT user_id, entry_node_id, compiled_at FROM flow_programs WHERE standard_process_id = $1`, processID,
	).Scan(&p.UserID, &p.EntryNodeID, &p.CompiledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGraphNotFound
		}
		return nil, fmt.Errorf("postgres: query program: %w", err)
	}
	p.CompiledAt = p.CompiledAt.UTC()

	if err := s.loadNodes(ctx, p); err != nil {
		return nil, err
	}
	if err := s.loadEdges(ctx, p); err != nil {
		return nil, err
	}
	if err := s.loadOptions(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *GraphStore) loadNodes(ctx context.Context, p *domain.Program) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, type, position, data FROM flow_nodes WHERE standard_process_id = $1`, p.ProcessID)
	if err != nil {
		return fmt.Errorf("postgres: query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n        domain.Node
			nodeType string
			position []byte
			raw      map[string]any
		)
		if err := rows.Scan(&n.ID, &nodeType, &position, &raw); err != nil {
			return fmt.Errorf("postgres: scan node: %w", err)
		}
		n.Type = domain.NodeType(nodeType)
		if err := json.Unmarshal(position, &n.Position); err != nil {
			return fmt.Errorf("postgres: node %s position: %w", n.ID, err)
		}
		if n.Data, err = domain.DecodeNodeData(n.Type, raw); err != nil {
			return fmt.Errorf("postgres: node %s: %w", n.ID, err)
		}
		p.Nodes[n.ID] = n
	}
	return rows.Err()
}

func (s *GraphStore) loadEdges(ctx context.Context, p *domain.Program) error {
	rows, err := s.db.Query(ctx,
		`SELECT id, source, target, source_handle, type, style, marker_end, user_id, branch
		 FROM flow_edges WHERE standard_process_id = $1`, p.ProcessID)
	if err != nil {
		return fmt.Errorf("postgres: query edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                domain.Edge
			style, markerEnd *string
			branch           bool
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.SourceHandle, &e.Type, &style, &markerEnd, &e.UserID, &branch); err != nil {
			return fmt.Errorf("postgres: scan edge: %w", err)
		}
		e.Style = rawJSON(style)
		e.MarkerEnd = rawJSON(markerEnd)
		e.ProcessID = p.ProcessID
		if branch {
			p.SetBranchEdge(e.Source, e.SourceHandle, e)
			continue
		}
		p.Links[e.Source] = e
	}
	return rows.Err()
}

func (s *GraphStore) loadOptions(ctx context.Context, p *domain.Program) error {
	rows, err := s.db.Query(ctx,
		`SELECT widget_id, value, operator, next FROM flow_options
		 WHERE standard_process_id = $1 ORDER BY widget_id, position`, p.ProcessID)
	if err != nil {
		return fmt.Errorf("postgres: query options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			opt      domain.Option
			operator string
		)
		if err := rows.Scan(&opt.WidgetID, &opt.Value, &operator, &opt.Next); err != nil {
			return fmt.Errorf("postgres: scan option: %w", err)
		}
		opt.Operator = domain.Operator(operator)
		p.Options[opt.WidgetID] = append(p.Options[opt.WidgetID], opt)
	}
	return rows.Err()
}

func rawText(b json.RawMessage) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

func rawJSON(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}
