package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/flowbot"
	"github.com/aretw0/flowbot/internal/config"
	"github.com/aretw0/flowbot/internal/logging"
	"github.com/aretw0/flowbot/internal/metrics"
	"github.com/aretw0/flowbot/pkg/adapters/memory"
	"github.com/aretw0/flowbot/pkg/adapters/postgres"
	"github.com/aretw0/flowbot/pkg/adapters/process"
	redisadapter "github.com/aretw0/flowbot/pkg/adapters/redis"
	"github.com/aretw0/flowbot/pkg/adapters/webhook"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/persistence/middleware"
	"github.com/aretw0/flowbot/pkg/ports"
	"github.com/aretw0/flowbot/pkg/registry"
	backend "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// app is an engine wired from configuration plus the resources it owns.
type app struct {
	engine  *flowbot.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	closers []func()
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	a := &app{
		logger:  logging.New(level, cfg.Log.Format),
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Connect the backends the configuration names
	var rdb *backend.Client
	if cfg.Sessions.Backend == config.BackendRedis || cfg.Graphs.Backend == config.BackendRedis {
		rdb = backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	var pg *postgres.Store
	if cfg.Sessions.Backend == config.BackendPostgres || cfg.Graphs.Backend == config.BackendPostgres {
		pg, err = postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.CreateSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres: create schema: %w", err)
		}
	}

	// 2. Stores
	var graphs ports.GraphStore
	switch cfg.Graphs.Backend {
	case config.BackendRedis:
		graphs = redisadapter.NewGraphStore(rdb, cfg.Redis.Prefix)
	case config.BackendPostgres:
		graphs = pg.Graphs()
	default:
		graphs = memory.NewGraphStore()
	}

	var sessions ports.SessionStore
	switch cfg.Sessions.Backend {
	case config.BackendRedis:
		sessions = redisadapter.NewFromClient(rdb, redisadapter.WithPrefix(cfg.Redis.Prefix))
	case config.BackendPostgres:
		sessions = pg.Sessions()
	default:
		sessions = memory.NewStore()
	}

	if cfg.Sessions.EncryptionKey != "" {
		enc, err := encryptionConfig(cfg.Sessions)
		if err != nil {
			return nil, err
		}
		sessions = middleware.Chain(sessions, middleware.NewEncryptionMiddleware(enc))
	}

	// 3. Outbound webservice calls
	dispatcher := webhook.New(
		webhook.WithTimeout(cfg.Webservice.Timeout),
		webhook.WithCallbackBaseURL(cfg.Webservice.CallbackBaseURL),
		webhook.WithLogger(a.logger),
	)
	a.closers = append(a.closers, func() { _ = dispatcher.Close() })

	// 4. Local programs as actions
	actions := registry.NewRegistry()
	if cfg.Actions.File != "" {
		commands, err := process.LoadCommands(cfg.Actions.File)
		if err != nil {
			return nil, err
		}
		process.NewRunner(
			process.WithCommands(commands),
			process.WithBaseDir(cfg.Actions.WorkDir),
			process.WithTimeout(cfg.Actions.Timeout),
			process.WithLogger(a.logger),
		).Install(actions)
		a.logger.Info("Process actions loaded", "actions", actions.Names())
	}

	opts := []flowbot.Option{
		flowbot.WithActions(actions),
		flowbot.WithGraphStore(graphs),
		flowbot.WithSessionStore(sessions),
		flowbot.WithDispatcher(ports.DispatcherFunc(func(ctx context.Context, call domain.WebserviceCall) error {
			err := dispatcher.Dispatch(ctx, call)
			a.metrics.ObserveDispatch(err)
			return err
		})),
		flowbot.WithLogger(a.logger),
		flowbot.WithLifecycleHooks(a.metrics.Hooks()),
		flowbot.WithLocation(cfg.Location()),
		flowbot.WithMaxSteps(cfg.Runtime.MaxSteps),
		flowbot.WithMaxInputSize(cfg.Runtime.MaxInputSize),
	}
	// Several instances share redis: serialize turns across them.
	if rdb != nil {
		opts = append(opts,
			flowbot.WithLocker(redisadapter.NewLocker(rdb, cfg.Redis.Prefix)),
			flowbot.WithLockTTL(cfg.Redis.LockTTL),
		)
	}

	a.engine, err = flowbot.New(opts...)
	if err != nil {
		return nil, err
	}
	// Closed before the dispatcher so parked calls finish.
	a.closers = append(a.closers, a.engine.Wait)

	a.logger.Debug("Engine wired",
		"sessions", cfg.Sessions.Backend,
		"graphs", cfg.Graphs.Backend,
		"encrypted", cfg.Sessions.EncryptionKey != "",
	)
	return a, nil
}

func encryptionConfig(c config.SessionsConfig) (middleware.EncryptionConfig, error) {
	active, err := middleware.ParseKey(c.EncryptionKey)
	if err != nil {
		return middleware.EncryptionConfig{}, fmt.Errorf("sessions.encryption_key: %w", err)
	}
	enc := middleware.EncryptionConfig{ActiveKey: active}
	for i, s := range c.FallbackKeys {
		key, err := middleware.ParseKey(s)
		if err != nil {
			return middleware.EncryptionConfig{}, fmt.Errorf("sessions.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return enc, nil
}

// readGraph loads an editor graph from a JSON or YAML file. An empty process id
// is taken from the file name.
func readGraph(path string) (*domain.Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse graph %s: %w", path, err)
		}
		if b, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("parse graph %s: %w", path, err)
		}
	}

	var g domain.Graph
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("parse graph %s: %w", path, err)
	}
	if g.ProcessID == "" {
		g.ProcessID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &g, nil
}

// activateFiles compiles and activates each graph file.
func activateFiles(ctx context.Context, eng *flowbot.Engine, paths []string) ([]*domain.Program, error) {
	programs := make([]*domain.Program, 0, len(paths))
	for _, path := range paths {
		g, err := readGraph(path)
		if err != nil {
			return nil, err
		}
		p, err := eng.Activate(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("activate %s: %w", path, err)
		}
		programs = append(programs, p)
	}
	return programs, nil
}
