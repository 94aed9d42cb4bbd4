package runtime

import (
	"context"
	"regexp"
	"strings"

	"github.com/aretw0/flowbot/pkg/domain"
)

// Interpolator renders node text against the session variables.
type Interpolator func(ctx context.Context, text string, vars domain.Variables) (string, error)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// DefaultInterpolator replaces {{ name }} with the value of the variable.
// Unknown variables render as the empty string.
func DefaultInterpolator(_ context.Context, text string, vars domain.Variables) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		return vars[name]
	}), nil
}
