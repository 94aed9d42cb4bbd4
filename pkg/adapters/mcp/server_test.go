package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/flowbot"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/protocol"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parkGraph = `{
	"nodes": [
		{"id": "start", "type": "start", "data": {}},
		{"id": "menu", "type": "options", "data": {"text": "Pick one", "options": [{"label": "Check", "value": "check"}]}},
		{"id": "ws", "type": "webservice", "data": {"url": "https://crm/x", "text": "Wait", "outcomes": ["ok"]}},
		{"id": "done", "type": "message", "data": {"text": "Done, {{name}}"}}
	],
	"edges": [
		{"id": "e1", "source": "start", "target": "menu"},
		{"id": "e2", "source": "menu", "sourceHandle": "option-0", "target": "ws"},
		{"id": "e3", "source": "ws", "sourceHandle": "option-0", "target": "done"}
	]
}`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng, err := flowbot.New(
		flowbot.WithClock(func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }),
		flowbot.WithIDGenerators(func() string { return "s-1" }, func() string { return "corr-1" }),
	)
	require.NoError(t, err)
	return NewServer(eng, "test")
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestServer_Tools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// 1. Activate
	res, err := s.handleActivate(ctx, mcp.CallToolRequest{}, ActivateArgs{
		Graph: `{"standard_process_id": "bot-1", ` + parkGraph[1:],
	})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), `activated bot-1: 4 nodes, entry "start"`)

	// 2. Talk until parked
	env, err := s.handleSendMessage(ctx, mcp.CallToolRequest{}, SendMessageArgs{ProcessID: "bot-1", Phone: "5511999990000"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, env.StatusID)

	env, err = s.handleSendMessage(ctx, mcp.CallToolRequest{}, SendMessageArgs{ProcessID: "bot-1", Phone: "5511999990000", Text: "check"})
	require.NoError(t, err)
	require.NotNil(t, env.Control)
	assert.Equal(t, "corr-1", env.Control.Name)

	// 3. Resume with variables
	env, err = s.handleResume(ctx, mcp.CallToolRequest{}, ResumeArgs{
		CorrelationKey: "corr-1", Value: "ok", Variables: `{"name": "Ana"}`,
	})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusSuccess, env.StatusID)
	require.Len(t, env.Messages, 1)
	assert.Equal(t, "Done, Ana", env.Messages[0].Text)

	// 4. History
	hist, err := s.handleHistory(ctx, mcp.CallToolRequest{}, HistoryArgs{SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", hist.SessionID)
	assert.NotEmpty(t, hist.Units)

	// 5. Graph in both formats
	res, err = s.handleGraph(ctx, mcp.CallToolRequest{}, GraphArgs{ProcessID: "bot-1"})
	require.NoError(t, err)
	var g domain.Graph
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &g))
	assert.Len(t, g.Edges, 3)

	res, err = s.handleGraph(ctx, mcp.CallToolRequest{}, GraphArgs{ProcessID: "bot-1", Format: "mermaid"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "graph TD")
}

func TestServer_ToolFailures(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	env, err := s.handleSendMessage(ctx, mcp.CallToolRequest{}, SendMessageArgs{ProcessID: "nope", Phone: "5511999990000"})
	require.NoError(t, err, "failures travel inside the envelope")
	assert.Equal(t, protocol.StatusBotUnavailable, env.StatusID)

	env, err = s.handleResume(ctx, mcp.CallToolRequest{}, ResumeArgs{CorrelationKey: "corr-1", Value: "ok", Variables: "{"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusInvalidRequest, env.StatusID)

	env, err = s.handleResume(ctx, mcp.CallToolRequest{}, ResumeArgs{CorrelationKey: "missing", Value: "ok"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSessionNotFound, env.StatusID)

	_, err = s.handleHistory(ctx, mcp.CallToolRequest{}, HistoryArgs{SessionID: "missing"})
	assert.Error(t, err)

	res, err := s.handleGraph(ctx, mcp.CallToolRequest{}, GraphArgs{ProcessID: "nope"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleActivate(ctx, mcp.CallToolRequest{}, ActivateArgs{Graph: "not json"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServer_ActivateReportsProblems(t *testing.T) {
	s := newTestServer(t)

	broken := `{"standard_process_id": "bot-1", "nodes": [
		{"id": "start", "type": "start", "data": {}},
		{"id": "menu", "type": "options", "data": {"text": "?", "options": [{"label": "A", "value": "a"}]}}
	], "edges": [
		{"id": "e1", "source": "start", "target": "menu"},
		{"id": "e2", "source": "menu", "sourceHandle": "option-4", "target": "start"}
	]}`
	res, err := s.handleActivate(context.Background(), mcp.CallToolRequest{}, ActivateArgs{Graph: broken})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "graph does not compile")
}

func TestServer_ListsTools(t *testing.T) {
	s := newTestServer(t)

	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	for _, name := range []string{"send_message", "resume_webservice", "get_history", "get_graph", "activate_graph"} {
		assert.Contains(t, string(raw), `"name":"`+name+`"`)
	}
}
