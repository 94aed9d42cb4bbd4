package ports

import (
	"context"

	"github.com/aretw0/flowbot/pkg/domain"
)

// TurnCommit is the unit of persistence of one turn.
type TurnCommit struct {
	// Session is the next snapshot. Its Turn must be ExpectedTurn+1.
	Session *domain.Session
	// ExpectedTurn is the version the turn was computed from. Zero means the
	// session must not exist yet.
	ExpectedTurn int64
	// Entries are appended to the session history in order.
	Entries []domain.HistoryEntry
}

// SessionStore persists sessions and their append-only history.
type SessionStore interface {
	// FindByKey returns the session of a phone talking to a bot.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	FindByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error)

	// Load returns the session with the given id.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// FindByCorrelation returns the session parked under a correlation key.
	// Returns domain.ErrSessionNotFound if no session waits on it.
	FindByCorrelation(ctx context.Context, correlationKey string) (*domain.Session, error)

	// Commit writes the session and appends the entries atomically.
	// Returns domain.ErrCommitConflict, leaving the store unchanged, when the
	// stored version differs from ExpectedTurn.
	Commit(ctx context.Context, c TurnCommit) error

	// History returns the entries of a session in append order.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error)

	// List returns the ids of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

// GraphStore persists compiled programs. Activating a program replaces the
// previous one of the same bot.
type GraphStore interface {
	// Activate stores p as the active program of p.ProcessID.
	Activate(ctx context.Context, p *domain.Program) error

	// Load returns the active program of a bot.
	// Returns domain.ErrGraphNotFound if the bot has none.
	Load(ctx context.Context, processID string) (*domain.Program, error)
}
