package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	handlePrefix = "option-"
	// DefaultHandle is the source handle of the fallback edge of a decision node.
	DefaultHandle = handlePrefix + "default"
)

// Edge is a directed connection between two nodes, as persisted by the editor.
// Style and MarkerEnd are opaque presentation payloads and are stored verbatim.
type Edge struct {
	ID           string          `json:"id"`
	Source       string          `json:"source"`
	Target       string          `json:"target"`
	SourceHandle string          `json:"sourceHandle"`
	Type         string          `json:"type"`
	Style        json.RawMessage `json:"style,omitempty"`
	MarkerEnd    json.RawMessage `json:"markerEnd,omitempty"`
	UserID       string          `json:"user_id"`
	ProcessID    string          `json:"standard_process_id"`
}

// HandleKind classifies a source handle.
type HandleKind int

const (
	// HandleNone is an edge leaving without a handle.
	HandleNone HandleKind = iota
	// HandleIndexed is an option-<i> handle.
	HandleIndexed
	// HandleDefault is the option-default handle.
	HandleDefault
)

// Handle is a parsed source handle.
type Handle struct {
	Kind  HandleKind
	Index int
}

// ParseHandle parses "", "option-<i>" and "option-default".
func ParseHandle(s string) (Handle, error) {
	switch {
	case s == "":
		return Handle{Kind: HandleNone}, nil
	case s == DefaultHandle:
		return Handle{Kind: HandleDefault}, nil
	case strings.HasPrefix(s, handlePrefix):
		i, err := strconv.Atoi(strings.TrimPrefix(s, handlePrefix))
		if err != nil || i < 0 {
			return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
		}
		return Handle{Kind: HandleIndexed, Index: i}, nil
	default:
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
}

// HandleFor returns the handle string of the i-th branch.
func HandleFor(i int) string {
	return handlePrefix + strconv.Itoa(i)
}

func (h Handle) String() string {
	switch h.Kind {
	case HandleIndexed:
		return HandleFor(h.Index)
	case HandleDefault:
		return DefaultHandle
	default:
		return ""
	}
}
