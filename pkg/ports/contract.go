package ports

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore
// implementation adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	newSession := func() *domain.Session {
		s := domain.NewSession(uuid.NewString(), "owner-1", "proc-"+uuid.NewString()[:8], "5511999990000", now)
		s.Turn = 1
		return s
	}
	entry := func(text string, sec int) domain.HistoryEntry {
		return domain.NewEntry(domain.SenderBot, "n1", now.Add(time.Duration(sec)*time.Second), domain.TextPayload{Text: text})
	}

	t.Run("Not Found", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = store.FindByKey(ctx, domain.SessionKey{ProcessID: "missing", Phone: "0000000"})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = store.FindByCorrelation(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = store.History(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Create and Load", func(t *testing.T) {
		// 1. Create
		sess := newSession()
		sess.Variables["name"] = "Ana"
		sess.Status = domain.StatusWaiting
		sess.CurrentNodeID = "menu"

		err := store.Commit(ctx, TurnCommit{Session: sess, Entries: []domain.HistoryEntry{entry("hello", 0)}})
		require.NoError(t, err, "Commit should not return error")

		// 2. Load by id and by key
		byID, err := store.Load(ctx, sess.SessionID)
		require.NoError(t, err)
		assertSameSession(t, sess, byID)

		byKey, err := store.FindByKey(ctx, sess.Key())
		require.NoError(t, err)
		assertSameSession(t, sess, byKey)

		// 3. History
		history, err := store.History(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.TextPayload{Text: "hello"}, history[0].Payload)
		assert.True(t, now.Equal(history[0].Created))
	})

	t.Run("Create Twice Conflicts", func(t *testing.T) {
		sess := newSession()
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: sess}))

		again := newSession()
		again.ProcessID = sess.ProcessID
		err := store.Commit(ctx, TurnCommit{Session: again})
		assert.ErrorIs(t, err, domain.ErrCommitConflict)
	})

	t.Run("Versioned Update", func(t *testing.T) {
		sess := newSession()
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: sess, Entries: []domain.HistoryEntry{entry("one", 0)}}))

		// 1. Advance
		next := sess.Clone()
		next.Turn = 2
		next.Variables["email"] = "ana@example.com"
		err := store.Commit(ctx, TurnCommit{Session: next, ExpectedTurn: 1, Entries: []domain.HistoryEntry{entry("two", 1), entry("three", 2)}})
		require.NoError(t, err)

		// 2. A stale commit is rejected and leaves the store unchanged
		stale := sess.Clone()
		stale.Turn = 2
		stale.Variables["email"] = "stale@example.com"
		err = store.Commit(ctx, TurnCommit{Session: stale, ExpectedTurn: 1, Entries: []domain.HistoryEntry{entry("lost", 3)}})
		assert.ErrorIs(t, err, domain.ErrCommitConflict)

		loaded, err := store.Load(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), loaded.Turn)
		assert.Equal(t, "ana@example.com", loaded.Variables["email"])

		history, err := store.History(ctx, sess.SessionID)
		require.NoError(t, err)
		var texts []string
		for _, e := range history {
			texts = append(texts, e.Payload.(domain.TextPayload).Text)
		}
		assert.Equal(t, []string{"one", "two", "three"}, texts)
	})

	t.Run("Correlation Index", func(t *testing.T) {
		sess := newSession()
		sess.Status = domain.StatusSuspended
		sess.CorrelationKey = uuid.NewString()
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: sess}))

		found, err := store.FindByCorrelation(ctx, sess.CorrelationKey)
		require.NoError(t, err)
		assert.Equal(t, sess.SessionID, found.SessionID)

		// Resuming clears the key
		resumed := sess.Clone()
		resumed.Turn = 2
		resumed.Status = domain.StatusFinished
		resumed.CorrelationKey = ""
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: resumed, ExpectedTurn: 1}))

		_, err = store.FindByCorrelation(ctx, sess.CorrelationKey)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Returned Sessions Are Copies", func(t *testing.T) {
		sess := newSession()
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: sess}))

		loaded, err := store.Load(ctx, sess.SessionID)
		require.NoError(t, err)
		loaded.Variables["tampered"] = "yes"
		sess.Variables["tampered"] = "yes"

		again, err := store.Load(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.NotContains(t, again.Variables, "tampered")
	})

	t.Run("Concurrent Commits Of One Version", func(t *testing.T) {
		sess := newSession()
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: sess}))

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := sess.Clone()
				next.Turn = 2
				errs <- store.Commit(ctx, TurnCommit{Session: next, ExpectedTurn: 1, Entries: []domain.HistoryEntry{entry("racer", 1)}})
			}()
		}
		wg.Wait()
		close(errs)

		var ok int
		for err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, domain.ErrCommitConflict)
		}
		assert.Equal(t, 1, ok, "exactly one commit of a version must win")

		history, err := store.History(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("List", func(t *testing.T) {
		s1, s2 := newSession(), newSession()
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: s1}))
		require.NoError(t, store.Commit(ctx, TurnCommit{Session: s2}))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, s1.SessionID)
		assert.Contains(t, ids, s2.SessionID)
	})
}

func assertSameSession(t *testing.T, want, got *domain.Session) {
	t.Helper()
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Key(), got.Key())
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.CurrentNodeID, got.CurrentNodeID)
	assert.Equal(t, want.CorrelationKey, got.CorrelationKey)
	assert.Equal(t, want.Turn, got.Turn)
	assert.Equal(t, want.Variables, got.Variables)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
}

// RunGraphStoreContract verifies a GraphStore implementation.
func RunGraphStoreContract(t *testing.T, store GraphStore) {
	ctx := context.Background()
	processID := "proc-" + uuid.NewString()[:8]

	program := func(greeting string) *domain.Program {
		return &domain.Program{
			UserID:      "owner-1",
			ProcessID:   processID,
			EntryNodeID: "start",
			Nodes: map[string]domain.Node{
				"start": {ID: "start", Type: domain.NodeTypeStart, Data: &domain.StartData{}},
				"hello": {ID: "hello", Type: domain.NodeTypeMessage, Position: domain.Position{X: 10, Y: 20}, Data: &domain.MessageData{Text: greeting}},
				"menu": {ID: "menu", Type: domain.NodeTypeOptions, Data: &domain.MenuData{
					Text:    "Pick one",
					Options: []domain.MenuOption{{Label: "Yes", Value: "1"}, {Label: "No", Value: "2"}},
				}},
			},
			Links: map[string]domain.Edge{
				"start": {ID: "e1", Source: "start", Target: "hello", Type: "default", UserID: "owner-1", ProcessID: processID},
				"hello": {ID: "e2", Source: "hello", Target: "menu", Type: "default", UserID: "owner-1", ProcessID: processID},
			},
			Options: domain.OptionsByNode{
				"menu": {
					{WidgetID: "menu", Value: "1", Operator: domain.OperatorEquals, Next: "hello"},
					{WidgetID: "menu", Value: "2", Operator: domain.OperatorEquals, Next: "start"},
					{WidgetID: "menu", Value: domain.DefaultValue, Operator: domain.OperatorDefault, Next: "menu"},
				},
			},
			BranchEdges: map[string]map[string]domain.Edge{
				"menu": {
					"option-0": {
						ID: "reactflow__edge-menu-hello", Source: "menu", Target: "hello", SourceHandle: "option-0",
						Type: "smoothstep", Style: json.RawMessage(`{"stroke":"red"}`), MarkerEnd: json.RawMessage(`{"type":"arrowclosed"}`),
						UserID: "owner-1", ProcessID: processID,
					},
					"option-1": {
						ID: "e4", Source: "menu", Target: "start", SourceHandle: "option-1",
						Type: "default", UserID: "owner-1", ProcessID: processID,
					},
					"option-default": {
						ID: "e5", Source: "menu", Target: "menu", SourceHandle: "option-default",
						Type: "default", UserID: "owner-1", ProcessID: processID,
					},
				},
			},
			CompiledAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		}
	}

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "missing-"+processID)
		assert.ErrorIs(t, err, domain.ErrGraphNotFound)
	})

	t.Run("Activate and Load", func(t *testing.T) {
		want := program("Hi")
		require.NoError(t, store.Activate(ctx, want))

		got, err := store.Load(ctx, processID)
		require.NoError(t, err)
		assert.Equal(t, want.EntryNodeID, got.EntryNodeID)
		assert.Equal(t, want.UserID, got.UserID)
		assert.Equal(t, want.Nodes, got.Nodes)
		assert.Equal(t, want.Links, got.Links)
		assert.Equal(t, want.Options, got.Options, "options must keep their stored order")
		assert.Equal(t, want.BranchEdges, got.BranchEdges, "authored branch edges keep their presentation")
	})

	t.Run("Activate Replaces", func(t *testing.T) {
		require.NoError(t, store.Activate(ctx, program("First")))
		require.NoError(t, store.Activate(ctx, program("Second")))

		got, err := store.Load(ctx, processID)
		require.NoError(t, err)
		assert.Equal(t, &domain.MessageData{Text: "Second"}, got.Nodes["hello"].Data)
	})
}
