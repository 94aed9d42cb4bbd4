package dsl

import (
	"fmt"

	"github.com/aretw0/flowbot/pkg/domain"
)

type route struct {
	handle string
	target string
}

// NodeBuilder provides a fluent API for routing a node.
type NodeBuilder struct {
	node   domain.Node
	routes []route
	errs   []error
}

// Go links the node to the next one. Only one Go is allowed per node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	for _, r := range n.routes {
		if r.handle == "" {
			n.errs = append(n.errs, fmt.Errorf("node %q: more than one Go", n.node.ID))
			return n
		}
	}
	n.routes = append(n.routes, route{target: target})
	return n
}

// Option adds a menu choice routed to target.
func (n *NodeBuilder) Option(label, value, target string) *NodeBuilder {
	data, ok := n.node.Data.(*domain.MenuData)
	if !ok {
		return n.misuse("Option")
	}
	n.routes = append(n.routes, route{handle: handle(len(data.Options)), target: target})
	data.Options = append(data.Options, domain.MenuOption{Label: label, Value: value})
	return n
}

// Hours routes messages arriving in [from, to) to target.
func (n *NodeBuilder) Hours(from, to int, target string) *NodeBuilder {
	data, ok := n.node.Data.(*domain.TimeRoutingData)
	if !ok {
		return n.misuse("Hours")
	}
	n.routes = append(n.routes, route{handle: handle(len(data.Ranges)), target: target})
	data.Ranges = append(data.Ranges, domain.HourRange{From: from, To: to})
	return n
}

// Outcome routes a webservice callback value to target.
func (n *NodeBuilder) Outcome(value, target string) *NodeBuilder {
	data, ok := n.node.Data.(*domain.WebserviceData)
	if !ok {
		return n.misuse("Outcome")
	}
	n.routes = append(n.routes, route{handle: handle(len(data.Outcomes)), target: target})
	data.Outcomes = append(data.Outcomes, value)
	return n
}

// Default routes anything no option matches to target.
func (n *NodeBuilder) Default(target string) *NodeBuilder {
	switch n.node.Data.(type) {
	case *domain.MenuData, *domain.TimeRoutingData:
	default:
		return n.misuse("Default")
	}
	n.routes = append(n.routes, route{handle: "option-default", target: target})
	return n
}

// Method sets the HTTP method of a webservice node.
func (n *NodeBuilder) Method(method string) *NodeBuilder {
	data, ok := n.node.Data.(*domain.WebserviceData)
	if !ok {
		return n.misuse("Method")
	}
	data.Method = method
	return n
}

// SaveTo names the variable that receives the callback value of a webservice.
func (n *NodeBuilder) SaveTo(variable string) *NodeBuilder {
	data, ok := n.node.Data.(*domain.WebserviceData)
	if !ok {
		return n.misuse("SaveTo")
	}
	data.Variable = variable
	return n
}

// Control names the options control announced by a menu (the node id by default).
func (n *NodeBuilder) Control(name string) *NodeBuilder {
	data, ok := n.node.Data.(*domain.MenuData)
	if !ok {
		return n.misuse("Control")
	}
	data.Name = name
	return n
}

// At places the node on the editor canvas.
func (n *NodeBuilder) At(x, y float64) *NodeBuilder {
	n.node.Position = domain.Position{X: x, Y: y}
	return n
}

func (n *NodeBuilder) misuse(method string) *NodeBuilder {
	n.errs = append(n.errs, fmt.Errorf("node %q: %s does not apply to %s nodes", n.node.ID, method, n.node.Type))
	return n
}

func handle(i int) string {
	return fmt.Sprintf("option-%d", i)
}
