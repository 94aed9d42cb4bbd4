package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/flowbot/pkg/adapters/redis"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunSessionStoreContract(t, redis.NewFromClient(client))
}

func TestRedisGraphStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunGraphStoreContract(t, redis.NewGraphStore(client, ""))
}

func newSession(now time.Time) *domain.Session {
	s := domain.NewSession("sess-1", "owner", "bot", "5511999990000", now)
	s.Turn = 1
	return s
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	sess := newSession(time.Now())
	sess.Status = domain.StatusSuspended
	sess.CorrelationKey = "corr-1"
	entry := domain.NewEntry(domain.SenderBot, "n", time.Now(), domain.TextPayload{Text: "hi"})
	require.NoError(t, store.Commit(ctx, ports.TurnCommit{Session: sess, Entries: []domain.HistoryEntry{entry}}))

	assert.True(t, mr.Exists("custom:app:session:sess-1"))
	assert.True(t, mr.Exists("custom:app:key:bot:5511999990000"))
	assert.True(t, mr.Exists("custom:app:corr:corr-1"))
	assert.True(t, mr.Exists("custom:app:history:sess-1"))
	assert.True(t, mr.Exists("custom:app:index"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, "sess-1")
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, ports.TurnCommit{Session: newSession(time.Now())}))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, sessions, "sess-1")

	// Fast Forward time in miniredis (for Key Expiration)
	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = store.FindByKey(ctx, domain.SessionKey{ProcessID: "bot", Phone: "5511999990000"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// The index is pruned against wall-clock time.
	time.Sleep(1200 * time.Millisecond)

	sessions, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRedisStore_FailedCommitWritesNothing(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	sess := newSession(time.Now())
	require.NoError(t, store.Commit(ctx, ports.TurnCommit{Session: sess}))

	stale := sess.Clone()
	stale.Turn = 5
	stale.CorrelationKey = "never"
	entry := domain.NewEntry(domain.SenderBot, "n", time.Now(), domain.TextPayload{Text: "lost"})
	err := store.Commit(ctx, ports.TurnCommit{Session: stale, ExpectedTurn: 4, Entries: []domain.HistoryEntry{entry}})
	assert.ErrorIs(t, err, domain.ErrCommitConflict)

	assert.False(t, mr.Exists(redis.DefaultPrefix+"corr:never"))
	assert.False(t, mr.Exists(redis.DefaultPrefix+"history:sess-1"))
}
