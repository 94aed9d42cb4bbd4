// Package postgres persists compiled programs and sessions in PostgreSQL via pgx.
//
// Programs are stored as their routing table: nodes, the links of linear nodes
// and the option rows of decision nodes, in stored order. Sessions and their
// history are written together in one transaction guarded by the session turn.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the pool shared by the graph and session stores.
type Store struct {
	db *pgxpool.Pool
}

// New creates a new Store backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Graphs returns the ports.GraphStore view of the database.
func (s *Store) Graphs() *GraphStore {
	return &GraphStore{db: s.db}
}

// Sessions returns the ports.SessionStore view of the database.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{db: s.db}
}

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// isUniqueViolation reports a unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
