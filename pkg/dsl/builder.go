package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/flowbot/pkg/domain"
)

// nodeSpacing is the vertical distance between nodes on the editor canvas.
const nodeSpacing = 120

// Builder manages the graph construction.
type Builder struct {
	processID string
	userID    string
	order     []string
	nodes     map[string]*NodeBuilder
}

// New creates a new graph builder for a bot.
func New(processID string) *Builder {
	return &Builder{
		processID: processID,
		nodes:     make(map[string]*NodeBuilder),
	}
}

// Owner sets the user id stamped on the graph and its edges.
func (b *Builder) Owner(userID string) *Builder {
	b.userID = userID
	return b
}

// Start adds the entry node, always with id "start".
func (b *Builder) Start() *NodeBuilder {
	return b.add("start", &domain.StartData{})
}

// Message adds a text message node.
func (b *Builder) Message(id, text string) *NodeBuilder {
	return b.add(id, &domain.MessageData{Text: text})
}

// Image adds an image node.
func (b *Builder) Image(id, url, caption string) *NodeBuilder {
	return b.add(id, &domain.ImageData{URL: url, Caption: caption})
}

// URL adds a link node.
func (b *Builder) URL(id, url, text string) *NodeBuilder {
	return b.add(id, &domain.URLData{URL: url, Text: text})
}

// Card adds a send_item node.
func (b *Builder) Card(id string, item domain.SendItemData) *NodeBuilder {
	return b.add(id, &item)
}

// Set adds a set_variable node.
func (b *Builder) Set(id, name, value string) *NodeBuilder {
	return b.add(id, &domain.SetVariableData{Name: name, Value: value})
}

// Action adds a node running a registered action.
func (b *Builder) Action(id, name string, args map[string]any) *NodeBuilder {
	return b.add(id, &domain.ActionData{Name: name, Args: args})
}

// Input adds a question whose answer is saved to variable.
func (b *Builder) Input(id, text, variable string, kind domain.InputKind) *NodeBuilder {
	return b.add(id, &domain.InputData{Text: text, Variable: variable, InputType: kind})
}

// Options adds a menu. Route its choices with Option and Default.
func (b *Builder) Options(id, text string) *NodeBuilder {
	return b.add(id, &domain.MenuData{Text: text})
}

// TimeRouting adds an hour-of-day router. Route it with Hours and Default.
func (b *Builder) TimeRouting(id string, immediate bool) *NodeBuilder {
	return b.add(id, &domain.TimeRoutingData{Immediate: immediate})
}

// Webservice adds a node that parks the session on an external call. Route its
// callback values with Outcome.
func (b *Builder) Webservice(id, url, text string) *NodeBuilder {
	return b.add(id, &domain.WebserviceData{URL: url, Text: text})
}

func (b *Builder) add(id string, data domain.NodeData) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		nb.errs = append(nb.errs, fmt.Errorf("node %q declared twice", id))
		return nb
	}
	nb := &NodeBuilder{
		node: domain.Node{
			ID:       id,
			Type:     data.Kind(),
			Position: domain.Position{Y: float64(len(b.order) * nodeSpacing)},
			Data:     data,
		},
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Build assembles the editor graph in declaration order. It reports builder misuse;
// routing problems are left to the compiler.
func (b *Builder) Build() (*domain.Graph, error) {
	g := &domain.Graph{
		UserID:    b.userID,
		ProcessID: b.processID,
		Nodes:     make([]domain.Node, 0, len(b.order)),
	}

	var errs []error
	for _, id := range b.order {
		nb := b.nodes[id]
		errs = append(errs, nb.errs...)
		g.Nodes = append(g.Nodes, nb.node)

		for _, r := range nb.routes {
			g.Edges = append(g.Edges, domain.Edge{
				ID:           fmt.Sprintf("e%d", len(g.Edges)+1),
				Source:       id,
				Target:       r.target,
				SourceHandle: r.handle,
				UserID:       b.userID,
				ProcessID:    b.processID,
			})
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to build graph %s: %w", b.processID, err)
	}
	return g, nil
}
