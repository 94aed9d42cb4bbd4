package dsl

import (
	"testing"

	"github.com/aretw0/flowbot/pkg/compiler"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_SimpleFlow(t *testing.T) {
	// 1. Build the graph using DSL
	b := New("coffee").Owner("owner-1")

	b.Start().Go("menu")

	b.Options("menu", "Coffee or tea?").
		Option("Coffee", "coffee", "brew").
		Option("Tea", "tea", "steep").
		Default("menu")

	b.Message("brew", "Brewing coffee")
	b.Message("steep", "Steeping tea")

	g, err := b.Build()
	require.NoError(t, err)

	// 2. Verify the editor document
	assert.Equal(t, "coffee", g.ProcessID)
	assert.Len(t, g.Nodes, 4)
	assert.Equal(t, float64(120), g.Nodes[1].Position.Y)

	want := []domain.Edge{
		{ID: "e1", Source: "start", Target: "menu", UserID: "owner-1", ProcessID: "coffee"},
		{ID: "e2", Source: "menu", Target: "brew", SourceHandle: "option-0", UserID: "owner-1", ProcessID: "coffee"},
		{ID: "e3", Source: "menu", Target: "steep", SourceHandle: "option-1", UserID: "owner-1", ProcessID: "coffee"},
		{ID: "e4", Source: "menu", Target: "menu", SourceHandle: "option-default", UserID: "owner-1", ProcessID: "coffee"},
	}
	if diff := cmp.Diff(want, g.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}

	// 3. It compiles
	p, err := compiler.Compile(g)
	require.NoError(t, err)
	assert.Equal(t, "start", p.EntryNodeID)
	assert.Len(t, p.Options["menu"], 3)
}

func TestBuilder_BranchingNodes(t *testing.T) {
	b := New("support")

	b.Start().Go("hours")
	b.TimeRouting("hours", true).
		Hours(8, 12, "ask").
		Hours(13, 18, "ask").
		Default("closed")
	b.Message("closed", "Closed")
	b.Input("ask", "Email?", "email", domain.InputEmail).Go("check")
	b.Webservice("check", "https://crm/check", "Checking").
		Method("PUT").
		SaveTo("status").
		Outcome("ok", "done").
		Outcome("fail", "closed")
	b.Message("done", "Done")

	g, err := b.Build()
	require.NoError(t, err)

	ws := g.Nodes[4].Data.(*domain.WebserviceData)
	assert.Equal(t, &domain.WebserviceData{
		URL: "https://crm/check", Method: "PUT", Text: "Checking", Variable: "status", Outcomes: []string{"ok", "fail"},
	}, ws)
	assert.Equal(t, []domain.HourRange{{From: 8, To: 12}, {From: 13, To: 18}},
		g.Nodes[1].Data.(*domain.TimeRoutingData).Ranges)

	_, err = compiler.Compile(g)
	require.NoError(t, err)
}

func TestBuilder_Misuse(t *testing.T) {
	b := New("bad")
	b.Start().Go("a").Go("b")
	b.Message("a", "A").Option("x", "x", "b")
	b.Message("a", "again")
	b.Message("b", "B").Default("a").SaveTo("v")

	_, err := b.Build()
	require.Error(t, err)
	for _, want := range []string{
		`node "start": more than one Go`,
		`node "a": Option does not apply to message nodes`,
		`node "a" declared twice`,
		`node "b": Default does not apply`,
		`node "b": SaveTo does not apply`,
	} {
		assert.ErrorContains(t, err, want)
	}
}
