// Package runtime interprets compiled programs one turn at a time.
//
// The engine is pure with respect to storage: it receives a session snapshot and
// returns the next snapshot plus the messages and history entries the turn produced.
// Persisting them atomically is the caller's job.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/flowbot/internal/logging"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/registry"
	"github.com/google/uuid"
)

// DefaultMaxSteps bounds the automatic nodes executed in a single turn.
const DefaultMaxSteps = 100

// Engine is the conversation interpreter.
type Engine struct {
	actions      *registry.Registry
	interpolator Interpolator
	hooks        domain.LifecycleHooks
	logger       *slog.Logger
	clock        func() time.Time
	location     *time.Location
	maxSteps     int
	newKey       func() string
}

// Option configures the Engine.
type Option func(*Engine)

// WithActions sets the registry used by action nodes.
func WithActions(r *registry.Registry) Option {
	return func(e *Engine) { e.actions = r }
}

// WithInterpolator replaces the default {{ variable }} interpolator.
func WithInterpolator(i Interpolator) Option {
	return func(e *Engine) { e.interpolator = i }
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(h domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithLogger configures the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLocation sets the time zone used by time routing.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithMaxSteps bounds the automatic nodes executed per turn.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithKeyGenerator overrides the correlation key generator.
func WithKeyGenerator(fn func() string) Option {
	return func(e *Engine) { e.newKey = fn }
}

// NewEngine creates an interpreter.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		interpolator: DefaultInterpolator,
		logger:       logging.NewNop(),
		clock:        time.Now,
		location:     time.UTC,
		maxSteps:     DefaultMaxSteps,
		newKey:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Input is an inbound end-user message.
type Input struct {
	Text string
}

// Callback is the result posted back by a webservice.
type Callback struct {
	CorrelationKey string
	Value          string
	Variables      domain.Variables
}

// Outcome is the result of a successful turn.
type Outcome struct {
	// Session is the next snapshot. Its Turn is not advanced; that belongs to the commit.
	Session  *domain.Session
	Messages []domain.Message
	Entries  []domain.HistoryEntry
	Control  *domain.Control
	// Dispatch is set when the turn parked on a webservice node.
	Dispatch *domain.WebserviceCall
}

// Step runs one turn for an inbound message.
//
// Idle and finished sessions start at the entry node. Waiting sessions route the
// message through the options of their current node. Suspended sessions reject it.
// The input session is never modified.
func (e *Engine) Step(ctx context.Context, p *domain.Program, sess *domain.Session, in Input) (*Outcome, error) {
	t := e.newTurn(p, sess)
	if in.Text != "" {
		t.record(domain.SenderUser, "", domain.UserInputPayload{Text: in.Text})
	}

	switch sess.Status {
	case domain.StatusSuspended:
		return nil, domain.ErrSessionSuspended

	case domain.StatusWaiting:
		node, ok := p.Node(sess.CurrentNodeID)
		if !ok {
			// The graph was replaced while the session waited on a node it no longer has.
			e.logger.Warn("Waiting node missing from active graph, restarting",
				"session_id", sess.SessionID,
				"node_id", sess.CurrentNodeID,
			)
			return t.run(ctx, p.EntryNodeID)
		}

		next, err := t.answer(node, in.Text)
		if err != nil {
			return nil, err
		}
		e.emitNodeLeave(ctx, t.session, node)
		if next == "" {
			t.finish()
			return t.outcome(), nil
		}
		return t.run(ctx, next)

	default:
		return t.run(ctx, p.EntryNodeID)
	}
}

// Resume continues a suspended session with a webservice callback.
func (e *Engine) Resume(ctx context.Context, p *domain.Program, sess *domain.Session, cb Callback) (*Outcome, error) {
	if sess.Status != domain.StatusSuspended {
		return nil, domain.ErrNotSuspended
	}
	if cb.CorrelationKey != sess.CorrelationKey {
		return nil, domain.ErrCorrelationMismatch
	}

	node, ok := p.Node(sess.CurrentNodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNodeNotFound, sess.CurrentNodeID)
	}

	t := e.newTurn(p, sess)
	for k, v := range cb.Variables {
		t.session.Variables[k] = v
	}
	if ws, ok := node.Data.(*domain.WebserviceData); ok && ws.Variable != "" {
		t.session.Variables[ws.Variable] = cb.Value
	}

	next, err := Route(p, node.ID, cb.Value, t.now)
	if err != nil {
		return nil, &domain.RoutingError{NodeID: node.ID, Input: cb.Value, Cause: err}
	}

	t.session.CorrelationKey = ""
	e.emitNodeLeave(ctx, t.session, node)
	if next == "" {
		t.finish()
		return t.outcome(), nil
	}
	return t.run(ctx, next)
}

func (e *Engine) newTurn(p *domain.Program, sess *domain.Session) *turn {
	s := sess.Clone()
	if s.Variables == nil {
		s.Variables = make(domain.Variables)
	}
	return &turn{
		engine:  e,
		program: p,
		session: s,
		now:     e.clock().In(e.location),
	}
}

func (e *Engine) emitNodeEnter(ctx context.Context, s *domain.Session, n domain.Node) {
	if e.hooks.OnNodeEnter != nil {
		e.hooks.OnNodeEnter(ctx, e.nodeEvent(domain.EventNodeEnter, s, n))
	}
}

func (e *Engine) emitNodeLeave(ctx context.Context, s *domain.Session, n domain.Node) {
	if e.hooks.OnNodeLeave != nil {
		e.hooks.OnNodeLeave(ctx, e.nodeEvent(domain.EventNodeLeave, s, n))
	}
}

func (e *Engine) nodeEvent(t domain.EventType, s *domain.Session, n domain.Node) *domain.NodeEvent {
	return &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: e.clock(), Type: t, SessionID: s.SessionID},
		NodeID:    n.ID,
		NodeType:  n.Type,
	}
}
