package flowbot_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/flowbot"
	"github.com/aretw0/flowbot/pkg/adapters/memory"
	"github.com/aretw0/flowbot/pkg/compiler"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/dsl"
	"github.com/aretw0/flowbot/pkg/ports"
	"github.com/aretw0/flowbot/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phone = "5511999990000"

// supportBot greets, routes by business hours, offers a menu, captures an email
// and checks it with a webservice.
const supportBot = `{
	"user_id": "owner-1",
	"standard_process_id": "bot-1",
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "welcome", "type": "message", "data": {"text": "Hi!"}},
		{"id": "hours", "type": "time_routing", "data": {"immediate": true, "ranges": [{"from": 8, "to": 20}]}},
		{"id": "closed", "type": "message", "data": {"text": "We are closed"}},
		{"id": "menu", "type": "options", "data": {"text": "How can we help?", "options": [
			{"label": "Sales", "value": "1"},
			{"label": "Support", "value": "2"}
		]}},
		{"id": "sales", "type": "message", "data": {"text": "A seller will call you"}},
		{"id": "ask", "type": "input", "data": {"text": "Your email?", "variable": "email", "input_type": "email"}},
		{"id": "check", "type": "webservice", "data": {"url": "https://crm/check", "text": "Checking {{ email }}", "variable": "status", "outcomes": ["ok", "fail"]}},
		{"id": "ok", "type": "message", "data": {"text": "Ticket opened for {{ email }}"}},
		{"id": "fail", "type": "message", "data": {"text": "Could not open a ticket"}}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "welcome"},
		{"id": "e2", "source": "welcome", "target": "hours"},
		{"id": "e3", "source": "hours", "sourceHandle": "option-0", "target": "menu"},
		{"id": "e4", "source": "hours", "sourceHandle": "option-default", "target": "closed"},
		{"id": "e5", "source": "menu", "sourceHandle": "option-0", "target": "sales"},
		{"id": "e6", "source": "menu", "sourceHandle": "option-1", "target": "ask"},
		{"id": "e7", "source": "ask", "target": "check"},
		{"id": "e8", "source": "check", "sourceHandle": "option-0", "target": "ok"},
		{"id": "e9", "source": "check", "sourceHandle": "option-1", "target": "fail"}
	]
}`

func supportGraph(t *testing.T) *domain.Graph {
	t.Helper()
	var g domain.Graph
	require.NoError(t, json.Unmarshal([]byte(supportBot), &g))
	return &g
}

func at10() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

func newEngine(t *testing.T, opts ...flowbot.Option) *flowbot.Engine {
	t.Helper()
	opts = append([]flowbot.Option{flowbot.WithClock(at10)}, opts...)
	eng, err := flowbot.New(opts...)
	require.NoError(t, err)
	_, err = eng.Activate(context.Background(), supportGraph(t))
	require.NoError(t, err)
	return eng
}

func texts(env *protocol.Envelope) []string {
	var out []string
	for _, m := range env.Messages {
		if m.Type == domain.MessageText {
			out = append(out, m.Text)
		}
	}
	return out
}

func TestEngine_Conversation(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []domain.WebserviceCall
	)
	dispatcher := ports.DispatcherFunc(func(_ context.Context, c domain.WebserviceCall) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, c)
		return nil
	})
	eng := newEngine(t,
		flowbot.WithDispatcher(dispatcher),
		flowbot.WithIDGenerators(func() string { return "s-1" }, func() string { return "corr-1" }),
	)
	ctx := context.Background()

	// 1. First message greets and halts on the menu
	env, err := eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, env.StatusID)
	assert.Equal(t, []string{"Hi!", "How can we help?"}, texts(env))
	require.NotNil(t, env.Control)
	assert.Equal(t, domain.ControlOptions, env.Control.Type)

	// 2. Support leads to the email question
	env, err = eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Your email?"}, texts(env))

	// 3. Email parks the session and dispatches after the commit
	env, err = eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "ana@example.com"})
	require.NoError(t, err)
	require.NotNil(t, env.Control)
	assert.Equal(t, domain.ControlWebservice, env.Control.Type)
	assert.Equal(t, "corr-1", env.Control.Name)
	eng.Wait()
	require.Len(t, calls, 1)
	assert.Equal(t, "corr-1", calls[0].CorrelationKey)
	assert.Equal(t, "ana@example.com", calls[0].Variables["email"])

	sess, err := eng.Session(ctx, "bot-1", phone)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuspended, sess.Status)
	assert.Equal(t, int64(3), sess.Turn)

	// 4. Ordinary messages bounce while suspended
	env, err = eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "hello?"})
	assert.ErrorIs(t, err, domain.ErrSessionSuspended)
	assert.Equal(t, protocol.StatusSessionSuspended, env.StatusID)

	// 5. The callback resumes the walk
	env, err = eng.Resume(ctx, "corr-1", protocol.CallbackRequest{Value: "ok"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ticket opened for ana@example.com"}, texts(env))

	sess, err = eng.Session(ctx, "bot-1", phone)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, sess.Status)
	assert.Equal(t, "ok", sess.Variables["status"])
	assert.Empty(t, sess.CorrelationKey)

	// 6. A replayed callback finds nothing
	env, err = eng.Resume(ctx, "corr-1", protocol.CallbackRequest{Value: "ok"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, protocol.StatusSessionNotFound, env.StatusID)

	// 7. History drops the wait marker
	units, err := eng.History(ctx, "s-1")
	require.NoError(t, err)
	for _, u := range units {
		assert.NotEqual(t, domain.EntryWaitingWebservice, u.Type)
	}
	assert.Equal(t, domain.EntryUserInput, units[0].Type)
	assert.Equal(t, domain.SenderUser, units[0].Sender)
}

func TestEngine_RoutingErrorKeepsSession(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	_, err := eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone})
	require.NoError(t, err)

	env, err := eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "9"})
	var routing *domain.RoutingError
	require.ErrorAs(t, err, &routing)
	assert.Equal(t, protocol.StatusNoMatchingOption, env.StatusID)
	assert.Equal(t, []string{"How can we help?"}, texts(env), "prompt is re-rendered")

	sess, err := eng.Session(ctx, "bot-1", phone)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.Turn)
	assert.Equal(t, "menu", sess.CurrentNodeID)
}

func TestEngine_Failures(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		processID string
		req       protocol.TurnRequest
		want      protocol.StatusCode
	}{
		{"invalid phone", "bot-1", protocol.TurnRequest{Phone: "abc"}, protocol.StatusInvalidRequest},
		{"invalid sender", "bot-1", protocol.TurnRequest{Phone: phone, Sender: "bot"}, protocol.StatusInvalidRequest},
		{"oversized text", "bot-1", protocol.TurnRequest{Phone: phone, Text: string(make([]byte, 5000))}, protocol.StatusInvalidRequest},
		{"unknown bot", "nope", protocol.TurnRequest{Phone: phone}, protocol.StatusBotUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := eng.HandleTurn(ctx, tt.processID, tt.req)
			assert.Error(t, err)
			require.NotNil(t, env)
			assert.Equal(t, tt.want, env.StatusID)
			assert.NotNil(t, env.Messages)
		})
	}
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Commit(context.Context, ports.TurnCommit) error {
	return errors.New("disk full")
}

func TestEngine_CommitFailure(t *testing.T) {
	eng := newEngine(t, flowbot.WithSessionStore(failingStore{memory.NewStore()}))

	env, err := eng.HandleTurn(context.Background(), "bot-1", protocol.TurnRequest{Phone: phone})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, protocol.StatusCommitFailed, env.StatusID)
	assert.Empty(t, env.Messages, "nothing is announced for a turn that did not advance")
}

func TestEngine_ConcurrentTurnsSerialize(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	statuses := make([]protocol.StatusCode, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, _ := eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "1"})
			statuses[i] = env.StatusID
		}()
	}
	wg.Wait()

	for i, s := range statuses {
		assert.Equal(t, protocol.StatusSuccess, s, "turn %d", i)
	}
	sess, err := eng.Session(ctx, "bot-1", phone)
	require.NoError(t, err)
	assert.Equal(t, int64(n), sess.Turn)

	// Each turn's input is followed by its own replies, never another turn's.
	entries, err := eng.RawHistory(ctx, sess.SessionID)
	require.NoError(t, err)
	var want []string
	for i := range n {
		want = append(want, "user:1")
		if i%2 == 0 {
			want = append(want, "bot:Hi!", "bot:How can we help?", "bot:Options")
		} else {
			want = append(want, "bot:A seller will call you")
		}
	}
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		switch p := e.Payload.(type) {
		case domain.UserInputPayload:
			got = append(got, "user:"+p.Text)
		case domain.TextPayload:
			got = append(got, "bot:"+p.Text)
		default:
			got = append(got, "bot:"+string(e.Type))
		}
	}
	assert.Equal(t, want, got)
}

func TestEngine_UnsetVariableRendersNothing(t *testing.T) {
	b := dsl.New("quiet")
	b.Start().Go("nick")
	b.Message("nick", "{{ nickname }}").Go("link")
	b.URL("link", "https://example.com/help", "{{ help_label }}").Go("name")
	b.Options("name", "{{ greeting }}").
		Option("Yes", "y", "bye").
		Default("name")
	b.Message("bye", "Bye {{ nickname }}!")
	g, err := b.Build()
	require.NoError(t, err)

	eng, err := flowbot.New(flowbot.WithClock(at10))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = eng.Activate(ctx, g)
	require.NoError(t, err)

	env, err := eng.HandleTurn(ctx, "quiet", protocol.TurnRequest{Phone: phone, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, env.StatusID)
	require.Len(t, env.Messages, 2)
	assert.Equal(t, domain.MessageURL, env.Messages[0].Type)
	assert.Equal(t, "https://example.com/help", env.Messages[0].Text, "a link without text shows its URL")
	assert.Equal(t, domain.MessageOptions, env.Messages[1].Type)

	env, err = eng.HandleTurn(ctx, "quiet", protocol.TurnRequest{Phone: phone, Text: "maybe"})
	require.NoError(t, err, "the default branch re-prompts")
	assert.Equal(t, domain.MessageOptions, env.Messages[0].Type)

	env, err = eng.HandleTurn(ctx, "quiet", protocol.TurnRequest{Phone: phone, Text: "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bye !"}, texts(env))

	sess, err := eng.Session(ctx, "quiet", phone)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, sess.Status)
	assert.Equal(t, int64(3), sess.Turn)

	entries, err := eng.RawHistory(ctx, sess.SessionID)
	require.NoError(t, err)
	for _, e := range entries {
		if p, ok := e.Payload.(domain.TextPayload); ok {
			assert.NotEmpty(t, p.Text)
		}
	}
}

func TestEngine_DispatchDoesNotHoldTheTurn(t *testing.T) {
	release := make(chan struct{})
	dispatched := make(chan domain.WebserviceCall, 1)
	ctxErrs := make(chan error, 1)
	dispatcher := ports.DispatcherFunc(func(ctx context.Context, c domain.WebserviceCall) error {
		<-release
		ctxErrs <- ctx.Err()
		dispatched <- c
		return nil
	})
	eng := newEngine(t,
		flowbot.WithDispatcher(dispatcher),
		flowbot.WithIDGenerators(func() string { return "s-1" }, func() string { return "corr-1" }),
	)
	ctx, cancel := context.WithCancel(context.Background())

	for _, text := range []string{"hello", "2"} {
		_, err := eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: text})
		require.NoError(t, err)
	}

	// The dispatcher is still blocked when the parked turn returns.
	env, err := eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.ControlWebservice, env.Control.Type)
	assert.Empty(t, dispatched)

	// Cancelling the request does not cancel the call.
	cancel()
	close(release)
	eng.Wait()
	assert.NoError(t, <-ctxErrs)
	call := <-dispatched
	assert.Equal(t, "corr-1", call.CorrelationKey)
}

func TestEngine_ActivateCompileError(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	broken := supportGraph(t)
	broken.Edges = broken.Edges[:len(broken.Edges)-1]
	broken.Edges = append(broken.Edges, domain.Edge{ID: "bad", Source: "check", SourceHandle: "option-7", Target: "fail"})

	_, err := eng.Activate(ctx, broken)
	var compileErr *compiler.Error
	require.ErrorAs(t, err, &compileErr)

	g, err := eng.Graph(ctx, "bot-1")
	require.NoError(t, err, "previous program stays active")
	assert.Len(t, g.Edges, len(supportGraph(t).Edges))
}

func TestEngine_TurnEndHook(t *testing.T) {
	var (
		mu       sync.Mutex
		outcomes []string
	)
	eng := newEngine(t, flowbot.WithLifecycleHooks(domain.LifecycleHooks{
		OnTurnEnd: func(_ context.Context, e *domain.TurnEvent) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, e.Outcome)
		},
	}))
	ctx := context.Background()

	_, _ = eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone})
	_, _ = eng.HandleTurn(ctx, "bot-1", protocol.TurnRequest{Phone: phone, Text: "nope"})
	_, _ = eng.Resume(ctx, "missing", protocol.CallbackRequest{Value: "ok"})

	assert.Equal(t, []string{"success", "no_matching_option", "session_not_found"}, outcomes)
}

func TestEngine_HistoryUnknownSession(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.History(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
