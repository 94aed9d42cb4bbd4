package runtime

import (
	"fmt"
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
)

// Route selects the next node of nodeID for the given input.
//
// Options are evaluated in stored order and the first match wins. The default
// option is taken only when nothing else matched, wherever it is stored. Nodes
// without options follow their link. An empty id with a nil error means the node
// is terminal.
func Route(p *domain.Program, nodeID, input string, at time.Time) (string, error) {
	opts := p.Options[nodeID]
	if len(opts) == 0 {
		if link, ok := p.Links[nodeID]; ok {
			return link.Target, nil
		}
		if n, ok := p.Node(nodeID); ok && n.Data.Behavior() == domain.BehaviorDecision {
			return "", domain.ErrNoMatchingOption
		}
		return "", nil
	}

	fallback := ""
	for _, opt := range opts {
		if opt.IsDefault() {
			if fallback == "" {
				fallback = opt.Next
			}
			continue
		}
		ok, err := Match(opt, input, at)
		if err != nil {
			return "", err
		}
		if ok {
			return opt.Next, nil
		}
	}

	if fallback != "" {
		return fallback, nil
	}
	return "", domain.ErrNoMatchingOption
}

// Match evaluates a single non-default option.
func Match(opt domain.Option, input string, at time.Time) (bool, error) {
	switch opt.Operator {
	case domain.OperatorEquals:
		return input == opt.Value, nil
	case domain.OperatorTimeRange:
		r, err := domain.ParseHourRange(opt.Value)
		if err != nil {
			return false, err
		}
		return r.Contains(at.Hour()), nil
	case domain.OperatorDefault:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", domain.ErrUnknownOperator, opt.Operator)
	}
}
