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

// DefaultPrefix namespaces every key written by the adapter.
const DefaultPrefix = "flowbot:"

// Store implements ports.SessionStore using Redis.
//
// Layout, relative to the prefix:
//
//	session:<id>           session JSON
//	key:<process>:<phone>  session id
//	corr:<correlation>     session id of a parked session
//	history:<id>           list of history entry JSON
//	index                  zset of session ids scored by expiry
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

var _ ports.SessionStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets the expiration for sessions and their history.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) sessionKey(id string) string          { return s.prefix + "session:" + id }
func (s *Store) lookupKey(k domain.SessionKey) string { return s.prefix + "key:" + k.String() }
func (s *Store) correlationKey(corr string) string    { return s.prefix + "corr:" + corr }
func (s *Store) historyKey(id string) string          { return s.prefix + "history:" + id }
func (s *Store) indexKey() string                     { return s.prefix + "index" }

// FindByKey resolves the key index and loads the session.
func (s *Store) FindByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	return s.resolve(ctx, s.lookupKey(key))
}

// FindByCorrelation resolves the correlation index and loads the session.
func (s *Store) FindByCorrelation(ctx context.Context, correlationKey string) (*domain.Session, error) {
	return s.resolve(ctx, s.correlationKey(correlationKey))
}

func (s *Store) resolve(ctx context.Context, indexKey string) (*domain.Session, error) {
	id, err := s.client.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return s.Load(ctx, id)
}

// Load retrieves the session from Redis.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	return load(ctx, s.client, s.sessionKey(sessionID))
}

func load(ctx context.Context, c backend.Cmdable, key string) (*domain.Session, error) {
	val, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sess.Variables == nil {
		sess.Variables = make(domain.Variables)
	}
	return &sess, nil
}

// Commit writes the session, its indexes and history in one MULTI/EXEC
// guarded by WATCH on the session and its key index.
func (s *Store) Commit(ctx context.Context, c ports.TurnCommit) error {
	next := c.Session
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	entries := make([]any, 0, len(c.Entries))
	for _, e := range c.Entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal history entry: %w", err)
		}
		entries = append(entries, b)
	}

	sessionKey := s.sessionKey(next.SessionID)
	lookupKey := s.lookupKey(next.Key())

	txf := func(tx *backend.Tx) error {
		// 1. Version check on the watched keys
		owner, err := tx.Get(ctx, lookupKey).Result()
		if err != nil && !errors.Is(err, backend.Nil) {
			return err
		}
		indexed := err == nil

		var prevCorrelation string
		if c.ExpectedTurn == 0 {
			if indexed {
				return domain.ErrCommitConflict
			}
			n, err := tx.Exists(ctx, sessionKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return domain.ErrCommitConflict
			}
		} else {
			if !indexed || owner != next.SessionID {
				return domain.ErrCommitConflict
			}
			current, err := load(ctx, tx, sessionKey)
			if err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					return domain.ErrCommitConflict
				}
				return err
			}
			if current.Turn != c.ExpectedTurn {
				return domain.ErrCommitConflict
			}
			prevCorrelation = current.CorrelationKey
		}

		// 2. Write everything or nothing
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, sessionKey, data, s.ttl)
			pipe.Set(ctx, lookupKey, next.SessionID, s.ttl)

			if prevCorrelation != "" && prevCorrelation != next.CorrelationKey {
				pipe.Del(ctx, s.correlationKey(prevCorrelation))
			}
			if next.CorrelationKey != "" {
				pipe.Set(ctx, s.correlationKey(next.CorrelationKey), next.SessionID, s.ttl)
			}

			historyKey := s.historyKey(next.SessionID)
			if len(entries) > 0 {
				pipe.RPush(ctx, historyKey, entries...)
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, historyKey, s.ttl)
			}

			pipe.ZAdd(ctx, s.indexKey(), backend.Z{
				Score:  s.expiryScore(),
				Member: next.SessionID,
			})
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, sessionKey, lookupKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrCommitConflict):
		return err
	case errors.Is(err, backend.TxFailedErr):
		return fmt.Errorf("%w: session %s changed concurrently", domain.ErrCommitConflict, next.SessionID)
	default:
		return fmt.Errorf("failed to commit to redis: %w", err)
	}
}

// expiryScore is Now + TTL. If TTL = 0, the score is far in the future.
func (s *Store) expiryScore() float64 {
	if s.ttl == 0 {
		return 4102444800 // 2100-01-01
	}
	return float64(time.Now().Add(s.ttl).Unix())
}

// History returns the session entries in append order.
func (s *Store) History(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrSessionNotFound
	}

	raw, err := s.client.LRange(ctx, s.historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	entries := make([]domain.HistoryEntry, 0, len(raw))
	for i, r := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("history entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// List returns active sessions, lazily pruning expired ids from the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())

	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
