package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooks_Record(t *testing.T) {
	m := New()
	h := m.Hooks()
	ctx := context.Background()

	h.OnNodeEnter(ctx, &domain.NodeEvent{NodeType: domain.NodeTypeMessage})
	h.OnNodeEnter(ctx, &domain.NodeEvent{NodeType: domain.NodeTypeMessage})
	h.OnActionReturn(ctx, &domain.ActionEvent{Action: "lookup", IsError: true})
	h.OnTurnEnd(ctx, &domain.TurnEvent{Outcome: "success", Duration: 20 * time.Millisecond})
	m.ObserveDispatch(errors.New("timeout"))

	body := scrape(t, m)
	assert.Contains(t, body, `flowbot_node_visits_total{node_type="message"} 2`)
	assert.Contains(t, body, `flowbot_action_calls_total{action="lookup",result="error"} 1`)
	assert.Contains(t, body, `flowbot_turns_total{outcome="success"} 1`)
	assert.Contains(t, body, `flowbot_webservice_dispatches_total{result="error"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.ObserveTurn("no_matching_option", 0.01)

	assert.Contains(t, scrape(t, m), `flowbot_turns_total{outcome="no_matching_option"} 1`)
}

func TestCombine(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnNodeLeave: func(context.Context, *domain.NodeEvent) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{OnNodeLeave: func(context.Context, *domain.NodeEvent) { calls = append(calls, "b") }}

	h := Combine(a, domain.LifecycleHooks{}, b)
	h.OnNodeLeave(context.Background(), &domain.NodeEvent{})

	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Nil(t, h.OnTurnEnd)
}
