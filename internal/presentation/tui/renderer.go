// Package tui renders bot messages for an interactive terminal.
package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders message text as markdown with
// glamour, wrapped at width columns (0 keeps the glamour default). An empty
// style detects the terminal background; otherwise it names a glamour standard
// style such as "dark" or "notty".
func NewRenderer(width int, style string) (func(string) (string, error), error) {
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	opts := []glamour.TermRendererOption{
		styleOpt,
		glamour.WithEmoji(),
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}

	return func(markdown string) (string, error) {
		out, err := r.Render(markdown)
		if err != nil {
			return "", err
		}
		// Bot messages are short: drop the block margins glamour adds.
		return strings.Trim(out, "\n"), nil
	}, nil
}
