package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/flowbot/pkg/domain"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFrom builds an overlay from a session and its history.
func OverlayFrom(sess *domain.Session, history []domain.HistoryEntry) *GraphOverlay {
	o := &GraphOverlay{}
	for _, e := range history {
		if e.NodeID != "" {
			o.VisitedNodes = append(o.VisitedNodes, e.NodeID)
		}
	}
	if sess != nil {
		o.CurrentNode = sess.CurrentNodeID
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a compiled program.
// It applies semantic styling:
// - Start: ((Circle))
// - Action, Webservice: [[Subroutine]]
// - Options, Input: [/Parallelogram/]
// - Time routing: {Rhombus}
// - Default: [Rectangle]
// Option rows label their arrows; the default row is dotted.
func GenerateMermaid(p *domain.Program, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range p.NodeList() {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch node.Type {
		case domain.NodeTypeStart:
			opener, closer = "((", "))"
		case domain.NodeTypeAction, domain.NodeTypeWebservice:
			opener, closer = "[[", "]]"
		case domain.NodeTypeOptions, domain.NodeTypeInput:
			opener, closer = "[/", "/]"
		case domain.NodeTypeTimeRouting:
			opener, closer = "{", "}"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s <br/> %s\"%s\n", safeID, opener, node.ID, node.Type, closer)

		if link, ok := p.Links[node.ID]; ok {
			fmt.Fprintf(&sb, "    %s --> %s\n", safeID, sanitizeMermaidID(link.Target))
		}

		for _, opt := range p.Options[node.ID] {
			if opt.Next == "" {
				continue
			}
			safeTo := sanitizeMermaidID(opt.Next)
			if opt.Operator == domain.OperatorDefault {
				fmt.Fprintf(&sb, "    %s -. \"default\" .-> %s\n", safeID, safeTo)
				continue
			}
			// Escape double quotes in the value for the Mermaid label
			label := strings.ReplaceAll(opt.Value, "\"", "'")
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", safeID, label, safeTo)
		}
	}

	// Apply Overlay Styles
	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			// History may point to nodes the active graph no longer has.
			if _, ok := p.Nodes[id]; !ok {
				continue
			}
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}

		if _, ok := p.Nodes[overlay.CurrentNode]; ok {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
