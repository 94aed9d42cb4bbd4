package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []string{
	`   __ _               _           _   `,
	`  / _| | _____      _| |__   ___ | |_ `,
	` | |_| |/ _ \ \ /\ / / '_ \ / _ \| __|`,
	` |  _| | (_) \ V  V /| |_) | (_) | |_ `,
	` |_| |_|\___/ \_/\_/ |_.__/ \___/ \__|`,
}

var bannerColors = []string{"#34d399", "#2dd4bf", "#22d3ee", "#38bdf8", "#60a5fa"}

// PrintBanner writes the flowbot banner and the bot being chatted with to w.
func PrintBanner(w io.Writer, processID, version string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()

	fmt.Fprintln(w)
	for i, line := range bannerLines {
		fmt.Fprintln(w, out.String(line).Foreground(p.Color(bannerColors[i])))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, out.String(fmt.Sprintf(" bot %s · flowbot %s", processID, version)).Faint())
	fmt.Fprintln(w, out.String(` type "exit" to leave, "/callback <value>" to answer a webservice`).Faint())
	fmt.Fprintln(w)
}
