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

// SessionStore implements ports.SessionStore.
type SessionStore struct {
	db *pgxpool.Pool
}

var _ ports.SessionStore = (*SessionStore)(nil)

const sessionColumns = `session_id, user_id, standard_process_id, phone, variables, current_node_id,
	status, COALESCE(correlation_key, ''), turn, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s      domain.Session
		status string
	)
	err := row.Scan(&s.SessionID, &s.UserID, &s.ProcessID, &s.Phone, &s.Variables, &s.CurrentNodeID,
		&status, &s.CorrelationKey, &s.Turn, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("postgres: scan session: %w", err)
	}
	s.Status = domain.Status(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.Variables == nil {
		s.Variables = make(domain.Variables)
	}
	return &s, nil
}

// FindByKey returns the session of a phone talking to a bot.
func (s *SessionStore) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	return scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM flow_sessions WHERE standard_process_id = $1 AND phone = $2`,
		key.ProcessID, key.Phone))
}

// Load returns the session with the given id.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	return scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM flow_sessions WHERE session_id = $1`, sessionID))
}

// FindByCorrelation returns the session parked under correlationKey.
func (s *SessionStore) FindByCorrelation(ctx context.Context, correlationKey string) (*domain.Session, error) {
	return scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM flow_sessions WHERE correlation_key = $1`, correlationKey))
}

// Commit upserts the session guarded by its turn and appends the history in one transaction.
func (s *SessionStore) Commit(ctx context.Context, c ports.TurnCommit) error {
	next := c.Session
	variables := next.Variables
	if variables == nil {
		variables = domain.Variables{}
	}
	var correlation *string
	if next.CorrelationKey != "" {
		correlation = &next.CorrelationKey
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Session row, version checked
	var sql string
	if c.ExpectedTurn == 0 {
		sql = `INSERT INTO flow_sessions (session_id, user_id, standard_process_id, phone, variables,
				current_node_id, status, correlation_key, turn, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT DO NOTHING`
	} else {
		sql = `UPDATE flow_sessions SET user_id = $2, standard_process_id = $3, phone = $4, variables = $5,
				current_node_id = $6, status = $7, correlation_key = $8, turn = $9, created_at = $10, updated_at = $11
			WHERE session_id = $1 AND turn = $12`
	}
	args := []any{
		next.SessionID, next.UserID, next.ProcessID, next.Phone, variables,
		next.CurrentNodeID, string(next.Status), correlation, next.Turn, next.CreatedAt, next.UpdatedAt,
	}
	if c.ExpectedTurn != 0 {
		args = append(args, c.ExpectedTurn)
	}

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", domain.ErrCommitConflict, err)
		}
		return fmt.Errorf("postgres: write session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCommitConflict
	}

	// 2. History
	if len(c.Entries) > 0 {
		batch := &pgx.Batch{}
		for _, e := range c.Entries {
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("postgres: marshal history payload: %w", err)
			}
			batch.Queue(
				`INSERT INTO flow_history (session_id, type, sender, node_id, created, payload) VALUES ($1, $2, $3, $4, $5, $6)`,
				next.SessionID, string(e.Type), string(e.Sender), e.NodeID, e.Created, string(payload),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: append history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// History returns the entries of a session in append order.
func (s *SessionStore) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM flow_sessions WHERE session_id = $1)`, sessionID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: check session: %w", err)
	}
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	rows, err := s.db.Query(ctx,
		`SELECT type, sender, node_id, created, payload FROM flow_history WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e               domain.HistoryEntry
			entryType, from string
			payload         []byte
		)
		if err := rows.Scan(&entryType, &from, &e.NodeID, &e.Created, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		e.Type = domain.EntryType(entryType)
		e.Sender = domain.Sender(from)
		e.Created = e.Created.UTC()
		if e.Payload, err = domain.DecodePayload(e.Type, payload); err != nil {
			return nil, fmt.Errorf("postgres: history payload: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns the ids of all stored sessions.
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT session_id FROM flow_sessions ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
