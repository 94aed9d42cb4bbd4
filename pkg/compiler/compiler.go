// Package compiler converts between the authored graph (nodes and edges, as the visual
// editor saves them) and the compiled Program the interpreter runs.
//
// Compile turns the outgoing edges of branching nodes into Option rows ordered by branch
// index with the default row last. Decompile rebuilds those edges from the rows alone: the
// k-th non-default row of a node becomes handle option-k and the default row becomes
// option-default. Compile rejects graphs for which that reconstruction would not be exact.
// The authored branch edges ride along on the Program so Edges can restore their editor
// ids and styling.
package compiler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
)

// DefaultEdgeType is the editor edge type assigned to reconstructed edges.
const DefaultEdgeType = "default"

// EdgeID returns the deterministic id of the edge leaving source through handle to target.
func EdgeID(source, handle, target string) string {
	return "xy-edge__" + source + handle + "-" + target
}

type compilation struct {
	graph    *domain.Graph
	program  *domain.Program
	outgoing map[string][]domain.Edge
	problems []error
}

// Compile validates the graph and builds its Program.
// All problems are reported together in an *Error.
func Compile(g *domain.Graph) (*domain.Program, error) {
	c := &compilation{
		graph: g,
		program: &domain.Program{
			UserID:    g.UserID,
			ProcessID: g.ProcessID,
			Nodes:     make(map[string]domain.Node, len(g.Nodes)),
			Links:     make(map[string]domain.Edge),
			Options:   make(domain.OptionsByNode),
		},
		outgoing: make(map[string][]domain.Edge),
	}

	// 1. Index and validate nodes, locate the entry point
	c.indexNodes()

	// 2. Group edges by source, in stored order
	c.groupEdges()

	// 3. Compile routing per node
	for _, n := range g.Nodes {
		if node, ok := c.program.Nodes[n.ID]; ok {
			c.compileNode(node)
		}
	}

	if len(c.problems) > 0 {
		return nil, &Error{Problems: c.problems}
	}
	c.program.CompiledAt = time.Now().UTC()
	return c.program, nil
}

func (c *compilation) fail(err error) {
	c.problems = append(c.problems, err)
}

func (c *compilation) indexNodes() {
	var entries []string
	for _, n := range c.graph.Nodes {
		if n.ID == "" {
			c.fail(fmt.Errorf("%w (type %q)", ErrMissingNodeID, n.Type))
			continue
		}
		if _, dup := c.program.Nodes[n.ID]; dup {
			c.fail(fmt.Errorf("%w: %q", ErrDuplicateNode, n.ID))
			continue
		}

		if n.Data == nil {
			data, err := domain.DecodeNodeData(n.Type, nil)
			if err != nil {
				c.fail(fmt.Errorf("%w %q: %w", ErrInvalidNode, n.ID, err))
				continue
			}
			n.Data = data
		}
		if n.Type == "" {
			n.Type = n.Data.Kind()
		}
		if n.Type != n.Data.Kind() {
			c.fail(fmt.Errorf("%w %q: type %q carries %q data", ErrInvalidNode, n.ID, n.Type, n.Data.Kind()))
			continue
		}
		if err := n.Data.Validate(); err != nil {
			c.fail(fmt.Errorf("%w %q: %w", ErrInvalidNode, n.ID, err))
		}

		if n.Type == domain.NodeTypeStart {
			entries = append(entries, n.ID)
		}
		c.program.Nodes[n.ID] = n
	}

	switch len(entries) {
	case 0:
		c.fail(ErrMissingEntry)
	case 1:
		c.program.EntryNodeID = entries[0]
	default:
		c.fail(fmt.Errorf("%w: %s", ErrMultipleEntries, strings.Join(entries, ", ")))
	}
}

func (c *compilation) groupEdges() {
	for _, e := range c.graph.Edges {
		_, srcOK := c.program.Nodes[e.Source]
		_, dstOK := c.program.Nodes[e.Target]
		if !srcOK || !dstOK {
			c.fail(fmt.Errorf("%w: edge %q (%s -> %s)", ErrDanglingEdge, e.ID, e.Source, e.Target))
			continue
		}
		if c.graph.UserID != "" {
			e.UserID = c.graph.UserID
		}
		if c.graph.ProcessID != "" {
			e.ProcessID = c.graph.ProcessID
		}
		c.outgoing[e.Source] = append(c.outgoing[e.Source], e)
	}
}

func (c *compilation) compileNode(n domain.Node) {
	edges := c.outgoing[n.ID]
	brancher, branching := n.Data.(domain.Brancher)

	switch {
	case !branching:
		if len(edges) > 1 {
			c.fail(fmt.Errorf("%w: %q has %d", ErrMultipleLinks, n.ID, len(edges)))
			return
		}
		if len(edges) == 1 {
			c.program.Links[n.ID] = edges[0]
		}
	case len(edges) == 0:
		if n.Data.Behavior() == domain.BehaviorDecision {
			c.fail(fmt.Errorf("%w: %q", ErrUnroutedDecision, n.ID))
		}
	case len(edges) == 1 && edges[0].SourceHandle == "":
		c.program.Links[n.ID] = edges[0]
	default:
		options, problems := compileBranches(n.ID, brancher, edges)
		c.problems = append(c.problems, problems...)
		if len(problems) == 0 {
			c.program.Options[n.ID] = options
			for _, e := range edges {
				h, _ := domain.ParseHandle(e.SourceHandle)
				c.program.SetBranchEdge(n.ID, h.String(), e)
			}
		}
	}
}

type branch struct {
	index  int
	option domain.Option
}

func compileBranches(nodeID string, b domain.Brancher, edges []domain.Edge) ([]domain.Option, []error) {
	var (
		rows     []branch
		fallback *domain.Option
		problems []error
		seen     = make(map[int]bool)
		values   = make(map[string]int)
	)

	for _, e := range edges {
		h, err := domain.ParseHandle(e.SourceHandle)
		if err != nil {
			problems = append(problems, fmt.Errorf("node %q edge %q: %w", nodeID, e.ID, err))
			continue
		}

		switch h.Kind {
		case domain.HandleNone:
			problems = append(problems, fmt.Errorf("%w: node %q edge %q", ErrMissingHandle, nodeID, e.ID))
		case domain.HandleDefault:
			if fallback != nil {
				problems = append(problems, fmt.Errorf("%w: %q", ErrDuplicateDefault, nodeID))
				continue
			}
			fallback = &domain.Option{
				WidgetID: nodeID,
				Value:    domain.DefaultValue,
				Operator: domain.OperatorDefault,
				Next:     e.Target,
			}
		case domain.HandleIndexed:
			if seen[h.Index] {
				problems = append(problems, fmt.Errorf("%w: %q on %s", ErrDuplicateBranch, nodeID, h))
				continue
			}
			seen[h.Index] = true

			op, value, ok := b.Branch(h.Index)
			if !ok {
				problems = append(problems, fmt.Errorf("%w: %q has no %s", ErrUnknownBranch, nodeID, h))
				continue
			}
			if prev, dup := values[value]; dup {
				problems = append(problems, fmt.Errorf("%w: %q repeats %q on %s and %s",
					ErrDuplicateValue, nodeID, value, domain.HandleFor(prev), h))
				continue
			}
			values[value] = h.Index

			rows = append(rows, branch{index: h.Index, option: domain.Option{
				WidgetID: nodeID,
				Value:    value,
				Operator: op,
				Next:     e.Target,
			}})
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })
	for k, r := range rows {
		if r.index != k {
			problems = append(problems, fmt.Errorf("%w: %q expects %s, found %s",
				ErrBranchGap, nodeID, domain.HandleFor(k), domain.HandleFor(r.index)))
			break
		}
	}

	options := make([]domain.Option, 0, len(rows)+1)
	for _, r := range rows {
		options = append(options, r.option)
	}
	if fallback != nil {
		options = append(options, *fallback)
	}
	return options, problems
}

// Decompile rebuilds the edges of branching nodes from the routing table.
// Nodes are visited by id and rows in stored order.
func Decompile(options domain.OptionsByNode) []domain.Edge {
	var edges []domain.Edge
	for _, nodeID := range options.NodeIDs() {
		next := 0
		for _, opt := range options[nodeID] {
			handle := domain.DefaultHandle
			if !opt.IsDefault() {
				handle = domain.HandleFor(next)
				next++
			}
			edges = append(edges, domain.Edge{
				ID:           EdgeID(nodeID, handle, opt.Next),
				Source:       nodeID,
				Target:       opt.Next,
				SourceHandle: handle,
				Type:         DefaultEdgeType,
			})
		}
	}
	return edges
}

// Edges returns every edge of the program: the stored links followed by the
// decompiled branches, stamped with the program owner. A branch keeps the id,
// type and styling of its authored edge when that edge still leads to the same
// target.
func Edges(p *domain.Program) []domain.Edge {
	sources := make([]string, 0, len(p.Links))
	for id := range p.Links {
		sources = append(sources, id)
	}
	sort.Strings(sources)

	edges := make([]domain.Edge, 0, len(p.Links))
	for _, id := range sources {
		edges = append(edges, p.Links[id])
	}
	for _, e := range Decompile(p.Options) {
		if authored, ok := p.BranchEdge(e.Source, e.SourceHandle); ok && authored.Target == e.Target {
			e.ID = authored.ID
			e.Type = authored.Type
			e.Style = authored.Style
			e.MarkerEnd = authored.MarkerEnd
		}
		e.UserID = p.UserID
		e.ProcessID = p.ProcessID
		edges = append(edges, e)
	}
	return edges
}

// GraphOf reconstructs the authored graph of a program.
func GraphOf(p *domain.Program) *domain.Graph {
	return &domain.Graph{
		UserID:    p.UserID,
		ProcessID: p.ProcessID,
		Nodes:     p.NodeList(),
		Edges:     Edges(p),
	}
}
