package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/flowbot/internal/runtime"
	"github.com/aretw0/flowbot/pkg/compiler"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/registry"
)

// supportBot greets, routes by business hours, offers a menu, captures an email
// and checks it with a webservice.
const supportBot = `{
	"user_id": "owner-1",
	"standard_process_id": "bot-1",
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "welcome", "type": "message", "data": {"text": "Hi {{ name }}!"}},
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

func mustProgram(t *testing.T, raw string) *domain.Program {
	t.Helper()
	var g domain.Graph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	p, err := compiler.Compile(&g)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

func clockAt(hour int) func() time.Time {
	return func() time.Time { return time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC) }
}

func newSession() *domain.Session {
	return domain.NewSession("s-1", "owner-1", "bot-1", "5511999990000", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
}

func texts(msgs []domain.Message) []string {
	var out []string
	for _, m := range msgs {
		if tm, ok := m.(domain.TextMessage); ok {
			out = append(out, tm.Text)
		}
	}
	return out
}

func TestEngine_FirstTurnHaltsAtMenu(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine(runtime.WithClock(clockAt(10)))

	sess := newSession()
	sess.Variables["name"] = "Ana"

	out, err := engine.Step(context.Background(), p, sess, runtime.Input{Text: "hello"})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	if got := texts(out.Messages); len(got) != 2 || got[0] != "Hi Ana!" || got[1] != "How can we help?" {
		t.Errorf("unexpected texts: %v", got)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out.Messages))
	}
	if _, ok := out.Messages[2].(domain.OptionsMessage); !ok {
		t.Errorf("expected Options message last, got %T", out.Messages[2])
	}
	if out.Control == nil || out.Control.Type != domain.ControlOptions || out.Control.Name != "menu" {
		t.Errorf("unexpected control: %+v", out.Control)
	}
	if out.Session.Status != domain.StatusWaiting || out.Session.CurrentNodeID != "menu" {
		t.Errorf("expected waiting on menu, got %s on %s", out.Session.Status, out.Session.CurrentNodeID)
	}

	// UserInput followed by the three bot entries.
	if len(out.Entries) != 4 || out.Entries[0].Type != domain.EntryUserInput || out.Entries[3].Type != domain.EntryOptions {
		t.Errorf("unexpected entries: %+v", out.Entries)
	}
	if sess.Status != domain.StatusIdle {
		t.Error("input session must not be mutated")
	}
}

func TestEngine_ImmediateTimeRoutingOutsideHours(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine(runtime.WithClock(clockAt(23)))

	out, err := engine.Step(context.Background(), p, newSession(), runtime.Input{Text: "hi"})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if got := texts(out.Messages); len(got) != 2 || got[1] != "We are closed" {
		t.Errorf("unexpected texts: %v", got)
	}
	if out.Session.Status != domain.StatusFinished {
		t.Errorf("expected finished, got %s", out.Session.Status)
	}
	if out.Control != nil {
		t.Errorf("finished turn must not carry control, got %+v", out.Control)
	}
}

func TestEngine_TimeRoutingUsesConfiguredLocation(t *testing.T) {
	p := mustProgram(t, supportBot)
	// 02:00 UTC is 23:00 the previous day in São Paulo (UTC-3).
	loc := time.FixedZone("BRT", -3*60*60)
	engine := runtime.NewEngine(runtime.WithClock(clockAt(2)), runtime.WithLocation(loc))

	out, err := engine.Step(context.Background(), p, newSession(), runtime.Input{})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if out.Session.CurrentNodeID != "closed" {
		t.Errorf("expected closed branch, got %s", out.Session.CurrentNodeID)
	}
}

func waitingAt(node string) *domain.Session {
	s := newSession()
	s.Status = domain.StatusWaiting
	s.CurrentNodeID = node
	s.Turn = 1
	return s
}

func TestEngine_RoutingErrorLeavesSessionUntouched(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine(runtime.WithClock(clockAt(10)))

	sess := waitingAt("menu")
	before := sess.Clone()

	out, err := engine.Step(context.Background(), p, sess, runtime.Input{Text: "9"})
	if out != nil {
		t.Errorf("expected no outcome, got %+v", out)
	}

	var rerr *domain.RoutingError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RoutingError, got %v", err)
	}
	if !errors.Is(err, domain.ErrNoMatchingOption) {
		t.Errorf("expected ErrNoMatchingOption, got %v", err)
	}
	if rerr.NodeID != "menu" || len(rerr.Prompt) != 2 || rerr.Control.Name != "menu" {
		t.Errorf("routing error must re-render the menu prompt: %+v", rerr)
	}
	if sess.Status != before.Status || sess.CurrentNodeID != before.CurrentNodeID || len(sess.Variables) != len(before.Variables) {
		t.Error("session was mutated by a failed turn")
	}
}

func TestEngine_EqualsIsVerbatim(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine(runtime.WithClock(clockAt(10)))

	_, err := engine.Step(context.Background(), p, waitingAt("menu"), runtime.Input{Text: " 1"})
	if !errors.Is(err, domain.ErrNoMatchingOption) {
		t.Errorf("expected no match for padded input, got %v", err)
	}
}

func TestEngine_InputCaptureAndSuspend(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine(
		runtime.WithClock(clockAt(10)),
		runtime.WithKeyGenerator(func() string { return "corr-1" }),
	)
	ctx := context.Background()

	// 1. Menu choice leads to the email question
	out, err := engine.Step(ctx, p, waitingAt("menu"), runtime.Input{Text: "2"})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if out.Control == nil || out.Control.Type != "email" || out.Control.Name != "email" {
		t.Errorf("unexpected control: %+v", out.Control)
	}

	// 2. Invalid answer is rejected and not stored
	_, err = engine.Step(ctx, p, out.Session, runtime.Input{Text: "not-an-email"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, stored := out.Session.Variables["email"]; stored {
		t.Error("rejected answer must not be stored")
	}

	// 3. Valid answer parks the session on the webservice
	out, err = engine.Step(ctx, p, out.Session, runtime.Input{Text: "ana@example.com"})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	s := out.Session
	if s.Status != domain.StatusSuspended || s.CorrelationKey != "corr-1" || s.CurrentNodeID != "check" {
		t.Errorf("expected suspended on check with key, got %+v", s)
	}
	if s.Variables["email"] != "ana@example.com" {
		t.Errorf("email not captured: %v", s.Variables)
	}
	if out.Control == nil || out.Control.Type != domain.ControlWebservice || out.Control.Name != "corr-1" {
		t.Errorf("unexpected control: %+v", out.Control)
	}
	last := out.Entries[len(out.Entries)-1]
	if last.Type != domain.EntryWaitingWebservice {
		t.Errorf("expected waitingwebservice marker last, got %s", last.Type)
	}
	if out.Dispatch == nil || out.Dispatch.URL != "https://crm/check" || out.Dispatch.Method != "POST" {
		t.Errorf("unexpected dispatch: %+v", out.Dispatch)
	}
	if got := texts(out.Messages); len(got) != 1 || got[0] != "Checking ana@example.com" {
		t.Errorf("unexpected texts: %v", got)
	}

	// 4. Ordinary messages are rejected while suspended
	if _, err := engine.Step(ctx, p, s, runtime.Input{Text: "hello?"}); !errors.Is(err, domain.ErrSessionSuspended) {
		t.Errorf("expected ErrSessionSuspended, got %v", err)
	}
}

func suspendedAt(key string) *domain.Session {
	s := newSession()
	s.Status = domain.StatusSuspended
	s.CurrentNodeID = "check"
	s.CorrelationKey = key
	s.Variables["email"] = "ana@example.com"
	return s
}

func TestEngine_Resume(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine(runtime.WithClock(clockAt(10)))
	ctx := context.Background()

	_, err := engine.Resume(ctx, p, suspendedAt("corr-1"), runtime.Callback{CorrelationKey: "stale", Value: "ok"})
	if !errors.Is(err, domain.ErrCorrelationMismatch) {
		t.Errorf("expected ErrCorrelationMismatch, got %v", err)
	}

	_, err = engine.Resume(ctx, p, waitingAt("menu"), runtime.Callback{Value: "ok"})
	if !errors.Is(err, domain.ErrNotSuspended) {
		t.Errorf("expected ErrNotSuspended, got %v", err)
	}

	out, err := engine.Resume(ctx, p, suspendedAt("corr-1"), runtime.Callback{
		CorrelationKey: "corr-1",
		Value:          "ok",
		Variables:      domain.Variables{"ticket": "T-9"},
	})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := texts(out.Messages); len(got) != 1 || got[0] != "Ticket opened for ana@example.com" {
		t.Errorf("unexpected texts: %v", got)
	}
	s := out.Session
	if s.Status != domain.StatusFinished || s.CorrelationKey != "" {
		t.Errorf("expected finished without key, got %+v", s)
	}
	if s.Variables["status"] != "ok" || s.Variables["ticket"] != "T-9" {
		t.Errorf("callback variables not merged: %v", s.Variables)
	}
}

func TestEngine_ResumeUnknownOutcome(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine()

	_, err := engine.Resume(context.Background(), p, suspendedAt("k"), runtime.Callback{CorrelationKey: "k", Value: "maybe"})
	if !errors.Is(err, domain.ErrNoMatchingOption) {
		t.Errorf("expected ErrNoMatchingOption, got %v", err)
	}
}

func TestEngine_FinishedSessionRestarts(t *testing.T) {
	p := mustProgram(t, supportBot)
	engine := runtime.NewEngine(runtime.WithClock(clockAt(10)))

	sess := newSession()
	sess.Status = domain.StatusFinished
	sess.CurrentNodeID = "sales"
	sess.Variables["name"] = "Bruno"

	out, err := engine.Step(context.Background(), p, sess, runtime.Input{Text: "again"})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if got := texts(out.Messages); len(got) == 0 || got[0] != "Hi Bruno!" {
		t.Errorf("expected restart with persisted variables, got %v", got)
	}
	if out.Session.CurrentNodeID != "menu" {
		t.Errorf("expected menu, got %s", out.Session.CurrentNodeID)
	}
}

const loopBot = `{
	"nodes": [
		{"id": "s", "type": "start"},
		{"id": "a", "type": "message", "data": {"text": "ping"}},
		{"id": "b", "type": "message", "data": {"text": "pong"}}
	],
	"edges": [
		{"id": "e1", "source": "s", "target": "a"},
		{"id": "e2", "source": "a", "target": "b"},
		{"id": "e3", "source": "b", "target": "a"}
	]
}`

func TestEngine_StepLimit(t *testing.T) {
	p := mustProgram(t, loopBot)
	engine := runtime.NewEngine(runtime.WithMaxSteps(10))

	_, err := engine.Step(context.Background(), p, newSession(), runtime.Input{Text: "hi"})
	if !errors.Is(err, domain.ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
	var exec *domain.ExecutionError
	if !errors.As(err, &exec) {
		t.Errorf("expected ExecutionError, got %T", err)
	}
}

const actionBot = `{
	"nodes": [
		{"id": "s", "type": "start"},
		{"id": "lookup", "type": "action", "data": {"name": "lookup_customer", "args": {"source": "crm"}}},
		{"id": "set", "type": "set_variable", "data": {"name": "greeting", "value": "Dear {{ customer }}"}},
		{"id": "bye", "type": "message", "data": {"text": "{{ greeting }}, bye"}}
	],
	"edges": [
		{"id": "e1", "source": "s", "target": "lookup"},
		{"id": "e2", "source": "lookup", "target": "set"},
		{"id": "e3", "source": "set", "target": "bye"}
	]
}`

func TestEngine_ActionsAndHooks(t *testing.T) {
	p := mustProgram(t, actionBot)

	reg := registry.NewRegistry()
	reg.Register("lookup_customer", func(ctx context.Context, req registry.Request) (registry.Result, error) {
		if req.Args["source"] != "crm" {
			return registry.Result{}, errors.New("unexpected args")
		}
		return registry.Result{Variables: domain.Variables{"customer": "Carla"}, Messages: []string{"Found you"}}, nil
	})

	var entered []string
	var actions []domain.EventType
	hooks := domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			entered = append(entered, e.NodeID)
		},
		OnActionCall: func(ctx context.Context, e *domain.ActionEvent) {
			actions = append(actions, e.Type)
		},
		OnActionReturn: func(ctx context.Context, e *domain.ActionEvent) {
			actions = append(actions, e.Type)
		},
	}

	engine := runtime.NewEngine(runtime.WithActions(reg), runtime.WithLifecycleHooks(hooks))
	out, err := engine.Step(context.Background(), p, newSession(), runtime.Input{})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	if got := texts(out.Messages); len(got) != 2 || got[0] != "Found you" || got[1] != "Dear Carla, bye" {
		t.Errorf("unexpected texts: %v", got)
	}
	if len(entered) != 4 {
		t.Errorf("expected 4 node enters, got %v", entered)
	}
	if len(actions) != 2 || actions[0] != domain.EventActionCall || actions[1] != domain.EventActionReturn {
		t.Errorf("unexpected action events: %v", actions)
	}
}

func TestEngine_ActionWithoutRegistry(t *testing.T) {
	p := mustProgram(t, actionBot)
	engine := runtime.NewEngine()

	_, err := engine.Step(context.Background(), p, newSession(), runtime.Input{})
	var exec *domain.ExecutionError
	if !errors.As(err, &exec) || exec.NodeID != "lookup" {
		t.Errorf("expected ExecutionError on lookup, got %v", err)
	}
}
