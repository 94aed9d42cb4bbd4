package compiler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateNode    = errors.New("duplicate node id")
	ErrMissingEntry     = errors.New("graph has no start node")
	ErrMultipleEntries  = errors.New("graph has more than one start node")
	ErrDanglingEdge     = errors.New("edge references an unknown node")
	ErrDuplicateDefault = errors.New("node has more than one default edge")
	ErrDuplicateBranch  = errors.New("node has more than one edge on the same handle")
	ErrUnknownBranch    = errors.New("handle does not match any branch of the node")
	ErrBranchGap        = errors.New("branch handles are not contiguous")
	ErrDuplicateValue   = errors.New("node has duplicate branch values")
	ErrMissingHandle    = errors.New("edge of a branching node has no handle")
	ErrMultipleLinks    = errors.New("linear node has more than one outgoing edge")
	ErrUnroutedDecision = errors.New("decision node has no outgoing edge")
	ErrInvalidNode      = errors.New("invalid node")
	ErrMissingNodeID    = errors.New("node has no id")
)

// Error aggregates every problem found while compiling a graph.
type Error struct {
	Problems []error
}

func (e *Error) Error() string {
	if len(e.Problems) == 1 {
		return "compile failed: " + e.Problems[0].Error()
	}
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("compile failed with %d problems: %s", len(e.Problems), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return e.Problems
}
