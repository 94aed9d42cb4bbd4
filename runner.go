package flowbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/protocol"
)

// Runner handles a local conversation loop against an Engine using provided IO.
// This allows for easy testing and integration with different frontends (CLI, TUI, etc).
type Runner struct {
	Input     io.Reader
	Output    io.Writer
	ProcessID string
	Phone     string
	Headless  bool
	Renderer  ContentRenderer
}

// ContentRenderer is a function that transforms the content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// callbackCommand resumes a parked session from the prompt: "/callback <value>".
const callbackCommand = "/callback"

// Run executes the conversation loop until EOF or "exit".
// The first turn is sent with empty text so the bot greets first.
func (r *Runner) Run(ctx context.Context, engine *Engine) error {
	if r.Input == nil {
		return errors.New("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return errors.New("output writer must be set (use os.Stdout)")
	}
	lineReader := bufio.NewReader(r.Input)

	if !r.Headless {
		fmt.Fprintf(r.Output, "--- flowbot chat (%s as %s) ---\n", r.ProcessID, r.Phone)
	}

	env, err := engine.HandleTurn(ctx, r.ProcessID, protocol.TurnRequest{Phone: r.Phone})
	if env.StatusID == protocol.StatusBotUnavailable {
		return err
	}
	correlation := r.print(env)

	for {
		// 1. Wait Phase (Input)
		if !r.Headless {
			fmt.Fprint(r.Output, "> ")
		}
		text, err := lineReader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || text == "") {
			if errors.Is(err, io.EOF) {
				// Graceful exit on EOF
				return nil
			}
			return fmt.Errorf("input error: %w", err)
		}
		input := strings.TrimSpace(text)

		if input == "exit" || input == "quit" {
			fmt.Fprintln(r.Output, "Bye!")
			return nil
		}

		// 2. Turn Phase
		if value, ok := strings.CutPrefix(input, callbackCommand); ok && correlation != "" {
			env, _ = engine.Resume(ctx, correlation, protocol.CallbackRequest{Value: strings.TrimSpace(value)})
		} else {
			env, _ = engine.HandleTurn(ctx, r.ProcessID, protocol.TurnRequest{Phone: r.Phone, Text: input})
		}

		// 3. Display Phase
		if next := r.print(env); next != "" || env.StatusID == protocol.StatusSuccess {
			correlation = next
		}
	}
}

// print writes an envelope and returns the correlation key the session parked under, if any.
func (r *Runner) print(env *protocol.Envelope) string {
	if env.StatusID != protocol.StatusSuccess {
		fmt.Fprintf(r.Output, "[%d] %s\n", env.StatusID, env.StatusDescription)
	}

	for _, m := range env.Messages {
		switch m.Type {
		case domain.MessageText:
			fmt.Fprintln(r.Output, r.render(m.Text))
		case domain.MessageOptions:
			for _, o := range m.Options {
				fmt.Fprintf(r.Output, "  [%s] %s\n", o.Value, o.Label)
			}
		case domain.MessageImage:
			fmt.Fprintf(r.Output, "(image) %s\n", m.URL)
		case domain.MessageURL:
			fmt.Fprintf(r.Output, "%s: %s\n", m.Text, m.URL)
		case domain.MessageSendItem:
			fmt.Fprintf(r.Output, "* %s - %s %s\n", m.Title, m.Subtitle, m.URL)
		}
	}

	if env.Control != nil && env.Control.Type == domain.ControlWebservice {
		if !r.Headless {
			fmt.Fprintf(r.Output, "(waiting for webservice, answer with %s <value>)\n", callbackCommand)
		}
		return env.Control.Name
	}
	return ""
}

func (r *Runner) render(text string) string {
	if r.Renderer == nil {
		return text
	}
	rendered, err := r.Renderer(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(rendered)
}
