// Package process runs allow-listed local programs as action nodes.
//
// Node arguments and session variables reach the program as environment variables
// (FLOWBOT_ARG_<NAME>, FLOWBOT_VAR_<NAME>), never as command-line flags. A program
// answers on stdout either with plain text, sent as one message, or with a JSON
// object {"variables": {...}, "messages": [...]}.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/flowbot/internal/logging"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/registry"
)

// DefaultTimeout bounds a command without its own timeout.
const DefaultTimeout = 10 * time.Second

// ErrNotRegistered is returned for commands outside the allow-list.
var ErrNotRegistered = errors.New("process action not registered")

// Runner executes local processes.
// It follows a Strict Registry pattern for security (Allow-Listing).
type Runner struct {
	commands map[string]Command
	baseDir  string
	timeout  time.Duration
	logger   *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithCommands populates the allow-list from a loaded config.
func WithCommands(commands map[string]Command) RunnerOption {
	return func(r *Runner) {
		for name, c := range commands {
			c.Name = name
			r.commands[name] = c
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithTimeout sets the timeout of commands that do not set their own.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		commands: make(map[string]Command),
		timeout:  DefaultTimeout,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.commands[name] = Command{Name: name, Command: command, Args: args}
}

// Install registers every allow-listed command as an action in reg.
func (r *Runner) Install(reg *registry.Registry) {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		reg.Register(name, r.Action(name))
	}
}

// Action returns the action running the named command.
func (r *Runner) Action(name string) registry.ActionFunc {
	return func(ctx context.Context, req registry.Request) (registry.Result, error) {
		return r.Execute(ctx, name, req)
	}
}

// Execute runs the named command for an action node.
func (r *Runner) Execute(ctx context.Context, name string, req registry.Request) (registry.Result, error) {
	// 1. Resolve against the allow-list
	c, ok := r.commands[name]
	if !ok {
		return registry.Result{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 2. Prepare Command
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = r.baseDir
	// Children holding stdout open must not outlive the timeout.
	cmd.WaitDelay = time.Second
	cmd.Env = append(cmd.Environ(), environment(c, req)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// 3. Run
	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("Process action finished", "action", name, "duration", time.Since(start), "err", err)
	if err != nil {
		if ctx.Err() != nil {
			return registry.Result{}, fmt.Errorf("process %s: timed out after %s: %w", name, timeout, ctx.Err())
		}
		return registry.Result{}, fmt.Errorf("process %s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	return parseOutput(stdout.String())
}

func environment(c Command, req registry.Request) []string {
	env := []string{
		"FLOWBOT_SESSION_ID=" + req.SessionID,
		"FLOWBOT_NODE_ID=" + req.NodeID,
	}
	for k, v := range c.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Args {
		env = append(env, "FLOWBOT_ARG_"+envName(k)+"="+stringify(v))
	}
	for k, v := range req.Variables {
		env = append(env, "FLOWBOT_VAR_"+envName(k)+"="+v)
	}
	return env
}

// envName upper-cases a key and replaces anything outside [A-Z0-9_] with '_'.
func envName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		// Complex types: Try JSON
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}

type output struct {
	Variables map[string]any `json:"variables"`
	Messages  []string       `json:"messages"`
}

func parseOutput(stdout string) (registry.Result, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return registry.Result{}, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		var out output
		if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
			return registry.Result{}, fmt.Errorf("process: malformed JSON output: %w", err)
		}
		res := registry.Result{Messages: out.Messages}
		if len(out.Variables) > 0 {
			res.Variables = make(domain.Variables, len(out.Variables))
			for k, v := range out.Variables {
				res.Variables[k] = stringify(v)
			}
		}
		return res, nil
	}

	return registry.Result{Messages: []string{trimmed}}, nil
}
