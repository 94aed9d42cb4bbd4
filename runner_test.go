package flowbot_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/aretw0/flowbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Conversation(t *testing.T) {
	eng := newEngine(t)

	var out bytes.Buffer
	r := &flowbot.Runner{
		Input:     strings.NewReader("2\nana@example.com\n/callback ok\nexit\n"),
		Output:    &out,
		ProcessID: "bot-1",
		Phone:     phone,
		Headless:  true,
		Renderer: func(s string) (string, error) {
			return strings.ToUpper(s), nil
		},
	}
	require.NoError(t, r.Run(context.Background(), eng))

	got := out.String()
	for _, want := range []string{
		"HI!",
		"  [1] Sales",
		"  [2] Support",
		"YOUR EMAIL?",
		"CHECKING ANA@EXAMPLE.COM",
		"TICKET OPENED FOR ANA@EXAMPLE.COM",
		"Bye!",
	} {
		assert.Contains(t, got, want)
	}
}

func TestRunner_ReportsStatus(t *testing.T) {
	eng := newEngine(t)

	var out bytes.Buffer
	r := &flowbot.Runner{
		Input:     strings.NewReader("9"),
		Output:    &out,
		ProcessID: "bot-1",
		Phone:     phone,
		Headless:  true,
	}
	require.NoError(t, r.Run(context.Background(), eng), "EOF ends the loop")
	assert.Contains(t, out.String(), "[3] No option matched the input")
}

func TestRunner_UnknownBot(t *testing.T) {
	eng := newEngine(t)
	r := &flowbot.Runner{Input: strings.NewReader(""), Output: &bytes.Buffer{}, ProcessID: "nope", Phone: phone}
	assert.Error(t, r.Run(context.Background(), eng))
}

func TestRunner_RequiresIO(t *testing.T) {
	eng := newEngine(t)
	assert.Error(t, (&flowbot.Runner{}).Run(context.Background(), eng))
}
