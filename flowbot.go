package flowbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/flowbot/internal/logging"
	"github.com/aretw0/flowbot/internal/runtime"
	"github.com/aretw0/flowbot/pkg/adapters/memory"
	"github.com/aretw0/flowbot/pkg/compiler"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/ports"
	"github.com/aretw0/flowbot/pkg/protocol"
	"github.com/aretw0/flowbot/pkg/registry"
	"github.com/aretw0/flowbot/pkg/replay"
	"github.com/aretw0/flowbot/pkg/session"
)

// Engine is the high-level entry point of the flow engine.
// It serializes the turns of each session, runs the interpreter against the
// active program, and commits the result atomically.
type Engine struct {
	graphs     ports.GraphStore
	sessions   *session.Manager
	runtime    *runtime.Engine
	dispatcher ports.Dispatcher
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	clock      func() time.Time

	store        ports.SessionStore
	locker       ports.DistributedLocker
	lockTTL      time.Duration
	actions      *registry.Registry
	interpolator runtime.Interpolator
	location     *time.Location
	maxSteps     int
	maxInputSize int
	newSessionID func() string
	newKey       func() string

	inflight sync.WaitGroup
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithGraphStore sets where compiled programs live. Defaults to memory.
func WithGraphStore(g ports.GraphStore) Option {
	return func(e *Engine) {
		e.graphs = g
	}
}

// WithSessionStore sets where sessions and history live. Defaults to memory.
func WithSessionStore(s ports.SessionStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLocker enables a distributed lock around every turn.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLockTTL sets the expiry of the distributed lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithDispatcher sets the outbound webservice dispatcher. Without one, suspended
// sessions simply wait for their callback.
func WithDispatcher(d ports.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithActions sets the registry used by action nodes.
func WithActions(r *registry.Registry) Option {
	return func(e *Engine) {
		e.actions = r
	}
}

// WithInterpolator replaces the default {{ variable }} interpolator.
func WithInterpolator(i runtime.Interpolator) Option {
	return func(e *Engine) {
		e.interpolator = i
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLocation sets the time zone used by time routing.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		e.location = loc
	}
}

// WithMaxSteps bounds the automatic nodes executed per turn.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithMaxInputSize bounds the size in bytes of an inbound message.
func WithMaxInputSize(n int) Option {
	return func(e *Engine) {
		e.maxInputSize = n
	}
}

// WithIDGenerators overrides the session id and correlation key generators.
func WithIDGenerators(sessionID, correlationKey func() string) Option {
	return func(e *Engine) {
		e.newSessionID = sessionID
		e.newKey = correlationKey
	}
}

// New initializes an Engine. Without stores it runs fully in memory.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		maxInputSize: protocol.DefaultMaxInputSize,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.graphs == nil {
		eng.graphs = memory.NewGraphStore()
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.maxInputSize <= 0 {
		return nil, fmt.Errorf("max input size must be positive, got %d", eng.maxInputSize)
	}

	sessionOpts := []session.Option{
		session.WithLogger(eng.logger),
		session.WithClock(eng.clock),
		session.WithLockTTL(eng.lockTTL),
	}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	if eng.newSessionID != nil {
		sessionOpts = append(sessionOpts, session.WithIDGenerator(eng.newSessionID))
	}
	eng.sessions = session.NewManager(eng.store, sessionOpts...)

	runtimeOpts := []runtime.Option{
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
		runtime.WithClock(eng.clock),
		runtime.WithLocation(eng.location),
		runtime.WithMaxSteps(eng.maxSteps),
		runtime.WithActions(eng.actions),
	}
	if eng.interpolator != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithInterpolator(eng.interpolator))
	}
	if eng.newKey != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithKeyGenerator(eng.newKey))
	}
	eng.runtime = runtime.NewEngine(runtimeOpts...)

	return eng, nil
}

// Activate compiles g and makes it the running program of its bot. Compile
// failures are returned as *compiler.Error and leave the previous program active.
func (e *Engine) Activate(ctx context.Context, g *domain.Graph) (*domain.Program, error) {
	p, err := compiler.Compile(g)
	if err != nil {
		return nil, err
	}
	p.CompiledAt = e.clock().UTC()

	if err := e.graphs.Activate(ctx, p); err != nil {
		return nil, fmt.Errorf("activate graph: %w: %w", domain.ErrPersistence, err)
	}
	e.logger.Info("Graph activated",
		"standard_process_id", p.ProcessID,
		"nodes", len(p.Nodes),
		"options", len(p.Options),
	)
	return p, nil
}

// Program returns the active compiled program of a bot.
func (e *Engine) Program(ctx context.Context, processID string) (*domain.Program, error) {
	p, err := e.graphs.Load(ctx, processID)
	if err != nil {
		if errors.Is(err, domain.ErrGraphNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load graph: %w: %w", domain.ErrPersistence, err)
	}
	return p, nil
}

// Graph returns the editor form of the active program, with branch edges rebuilt
// from the routing table.
func (e *Engine) Graph(ctx context.Context, processID string) (*domain.Graph, error) {
	p, err := e.Program(ctx, processID)
	if err != nil {
		return nil, err
	}
	return compiler.GraphOf(p), nil
}

// HandleTurn processes one inbound end-user message for a bot.
//
// The returned envelope is never nil. A non-nil error carries the failure the
// envelope's StatusId classifies; routing errors leave the session untouched.
func (e *Engine) HandleTurn(ctx context.Context, processID string, req protocol.TurnRequest) (*protocol.Envelope, error) {
	start := e.clock()
	var (
		sessionID string
		out       *runtime.Outcome
		env       *protocol.Envelope
	)

	err := func() error {
		// 1. Validate before touching any state
		if err := req.Validate(); err != nil {
			return err
		}
		text, err := protocol.SanitizeText(req.Text, e.maxInputSize)
		if err != nil {
			return err
		}

		key := domain.SessionKey{ProcessID: processID, Phone: req.Phone}
		return e.sessions.WithLock(ctx, key, func(ctx context.Context) error {
			// 2. Load program and session under the lock
			p, err := e.Program(ctx, processID)
			if err != nil {
				return err
			}
			sess, err := e.sessions.Open(ctx, key, p.UserID)
			if err != nil {
				return err
			}
			sessionID = sess.SessionID

			// 3. Execute
			out, err = e.runtime.Step(ctx, p, sess, runtime.Input{Text: text})
			if err != nil {
				return err
			}
			env, err = protocol.NewEnvelope(protocol.StatusSuccess, out.Messages, out.Control)
			if err != nil {
				return &domain.ExecutionError{NodeID: out.Session.CurrentNodeID, Err: err}
			}

			// 4. Commit session and history together
			_, err = e.sessions.Commit(ctx, out.Session, sess.Turn, out.Entries)
			return err
		})
	}()

	return e.finish(ctx, processID, sessionID, start, out, env, err)
}

// Resume continues the session parked under correlationKey with a webservice result.
func (e *Engine) Resume(ctx context.Context, correlationKey string, req protocol.CallbackRequest) (*protocol.Envelope, error) {
	start := e.clock()
	var (
		processID string
		sessionID string
		out       *runtime.Outcome
		env       *protocol.Envelope
	)

	err := func() error {
		if err := req.Validate(); err != nil {
			return err
		}

		// 1. Locate the parked session
		parked, err := e.sessions.FindByCorrelation(ctx, correlationKey)
		if err != nil {
			return err
		}
		processID, sessionID = parked.ProcessID, parked.SessionID

		return e.sessions.WithLock(ctx, parked.Key(), func(ctx context.Context) error {
			// 2. Reload under the lock; a concurrent callback may have won
			sess, err := e.sessions.Load(ctx, parked.SessionID)
			if err != nil {
				return err
			}
			p, err := e.Program(ctx, sess.ProcessID)
			if err != nil {
				return err
			}

			// 3. Execute
			out, err = e.runtime.Resume(ctx, p, sess, runtime.Callback{
				CorrelationKey: correlationKey,
				Value:          req.Value,
				Variables:      req.Variables,
			})
			if err != nil {
				return err
			}
			env, err = protocol.NewEnvelope(protocol.StatusSuccess, out.Messages, out.Control)
			if err != nil {
				return &domain.ExecutionError{NodeID: out.Session.CurrentNodeID, Err: err}
			}

			// 4. Commit
			_, err = e.sessions.Commit(ctx, out.Session, sess.Turn, out.Entries)
			return err
		})
	}()

	return e.finish(ctx, processID, sessionID, start, out, env, err)
}

// finish dispatches parked webservice calls, logs and reports the turn.
func (e *Engine) finish(ctx context.Context, processID, sessionID string, start time.Time,
	out *runtime.Outcome, env *protocol.Envelope, err error,
) (*protocol.Envelope, error) {
	if err != nil {
		env = protocol.FromError(err)
	} else if out.Dispatch != nil {
		e.dispatch(ctx, *out.Dispatch)
	}

	code := env.StatusID
	switch code {
	case protocol.StatusSuccess:
		e.logger.Debug("Turn handled", "session_id", sessionID, "standard_process_id", processID)
	case protocol.StatusCommitFailed, protocol.StatusExecutionFailed:
		e.logger.Error("Turn failed",
			"session_id", sessionID,
			"standard_process_id", processID,
			"status_id", int(code),
			"err", err,
		)
	default:
		e.logger.Debug("Turn rejected",
			"session_id", sessionID,
			"standard_process_id", processID,
			"status_id", int(code),
			"err", err,
		)
	}

	if e.hooks.OnTurnEnd != nil {
		e.hooks.OnTurnEnd(ctx, &domain.TurnEvent{
			EventBase: domain.EventBase{
				Timestamp: e.clock(),
				Type:      domain.EventTurnEnd,
				SessionID: sessionID,
			},
			ProcessID: processID,
			Outcome:   code.Label(),
			Duration:  e.clock().Sub(start),
		})
	}
	return env, err
}

// dispatch runs after the commit in the background; failures leave the session parked.
func (e *Engine) dispatch(ctx context.Context, call domain.WebserviceCall) {
	if e.dispatcher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		if err := e.dispatcher.Dispatch(ctx, call); err != nil {
			e.logger.Warn("Webservice dispatch failed, session stays suspended",
				"session_id", call.SessionID,
				"correlation_key", call.CorrelationKey,
				"err", err,
			)
		}
	}()
}

// Wait blocks until every webservice dispatch started so far has returned.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// History returns the replayed conversation of a session.
func (e *Engine) History(ctx context.Context, sessionID string) ([]replay.Unit, error) {
	entries, err := e.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return replay.Group(entries), nil
}

// Session returns the stored session of a phone talking to a bot.
func (e *Engine) Session(ctx context.Context, processID, phone string) (*domain.Session, error) {
	sess, err := e.store.FindByKey(ctx, domain.SessionKey{ProcessID: processID, Phone: phone})
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, fmt.Errorf("find session: %w: %w", domain.ErrPersistence, err)
	}
	return sess, err
}

// SessionByID returns a stored session by its id.
func (e *Engine) SessionByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.Load(ctx, sessionID)
}

// RawHistory returns the stored entries of a session without grouping.
func (e *Engine) RawHistory(ctx context.Context, sessionID string) ([]domain.HistoryEntry, error) {
	return e.sessions.History(ctx, sessionID)
}
