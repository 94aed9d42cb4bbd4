package domain

import (
	"sort"
	"time"
)

// Graph is the authored form of a bot, as saved by the visual editor.
type Graph struct {
	UserID    string `json:"user_id"`
	ProcessID string `json:"standard_process_id"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
}

// Program is the compiled, runnable form of a Graph.
type Program struct {
	UserID      string
	ProcessID   string
	EntryNodeID string
	Nodes       map[string]Node

	// Links holds the single unconditional edge of nodes routed without options.
	Links map[string]Edge

	// Options is the routing table of decision and suspension nodes.
	Options OptionsByNode

	// BranchEdges keeps the authored edges behind Options, by source node and
	// canonical handle. Routing never reads them; they carry the editor's edge
	// id, type and styling back out when the graph is rebuilt.
	BranchEdges map[string]map[string]Edge

	CompiledAt time.Time
}

// Node returns the node with the given id.
func (p *Program) Node(id string) (Node, bool) {
	n, ok := p.Nodes[id]
	return n, ok
}

// BranchEdge returns the authored edge leaving source through handle.
func (p *Program) BranchEdge(source, handle string) (Edge, bool) {
	e, ok := p.BranchEdges[source][handle]
	return e, ok
}

// SetBranchEdge records the authored edge leaving source through handle.
func (p *Program) SetBranchEdge(source, handle string, e Edge) {
	if p.BranchEdges == nil {
		p.BranchEdges = make(map[string]map[string]Edge)
	}
	if p.BranchEdges[source] == nil {
		p.BranchEdges[source] = make(map[string]Edge)
	}
	p.BranchEdges[source][handle] = e
}

// NodeList returns the nodes ordered by id.
func (p *Program) NodeList() []Node {
	nodes := make([]Node, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}
