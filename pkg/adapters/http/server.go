// Package http exposes the engine over a JSON HTTP API.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/flowbot/internal/logging"
	"github.com/aretw0/flowbot/internal/presentation/graph"
	"github.com/aretw0/flowbot/pkg/compiler"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/protocol"
	"github.com/aretw0/flowbot/pkg/replay"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMaxBodyBytes bounds request bodies. Graph documents are the largest.
const DefaultMaxBodyBytes = 4 << 20

// Engine defines the operations the API serves.
type Engine interface {
	HandleTurn(ctx context.Context, processID string, req protocol.TurnRequest) (*protocol.Envelope, error)
	Resume(ctx context.Context, correlationKey string, req protocol.CallbackRequest) (*protocol.Envelope, error)
	Activate(ctx context.Context, g *domain.Graph) (*domain.Program, error)
	Program(ctx context.Context, processID string) (*domain.Program, error)
	History(ctx context.Context, sessionID string) ([]replay.Unit, error)
	SessionByID(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Server holds the handlers.
type Server struct {
	Engine       Engine
	tokens       map[string]string
	metrics      http.Handler
	logger       *slog.Logger
	maxBodyBytes int64
	version      string
}

// Option configures the handler.
type Option func(*Server)

// WithTokens enables bearer authentication on /v1; tokens map to owner ids.
// Without tokens the API is open.
func WithTokens(tokens map[string]string) Option {
	return func(s *Server) {
		s.tokens = tokens
	}
}

// WithMetrics mounts a metrics handler on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithVersion sets the application version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:       engine,
		logger:       logging.NewNop(),
		maxBodyBytes: DefaultMaxBodyBytes,
		version:      "unknown",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(RawSpec())
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/bots/{processID}/messages", s.PostMessage)
		r.Get("/bots/{processID}/graph", s.GetGraph)
		r.Put("/bots/{processID}/graph", s.PutGraph)
		r.Post("/callbacks/{correlationKey}", s.PostCallback)
		r.Get("/sessions/{sessionID}/history", s.GetHistory)
	})

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type ownerKey struct{}

// OwnerFrom returns the owner id authenticated for the request.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// ownedBy reports whether the request may act on a resource of userID.
// Open APIs and resources without an owner are shared.
func ownedBy(ctx context.Context, userID string) bool {
	owner := OwnerFrom(ctx)
	return owner == "" || userID == "" || userID == owner
}

func (s *Server) forbid(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusForbidden, problem{Error: "resource belongs to another owner"})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok {
			for token, owner := range s.tokens {
				if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
					return
				}
			}
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="flowbot"`)
		s.writeJSON(w, http.StatusUnauthorized, problem{Error: "missing or invalid bearer token"})
	})
}

// HTTPStatus maps a StatusId to the HTTP status of the response.
// Rejections that leave the session unchanged but are part of the dialogue stay 200.
func HTTPStatus(code protocol.StatusCode) int {
	switch code {
	case protocol.StatusSuccess, protocol.StatusNoMatchingOption, protocol.StatusSessionSuspended:
		return http.StatusOK
	case protocol.StatusInvalidRequest:
		return http.StatusBadRequest
	case protocol.StatusCommitFailed:
		return http.StatusServiceUnavailable
	case protocol.StatusBotUnavailable, protocol.StatusSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PostMessage handles POST /v1/bots/{processID}/messages.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "TurnRequest")
	if !ok {
		return
	}
	var req protocol.TurnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeEnvelope(w, protocol.FromError(protocol.Invalid(err)))
		return
	}

	env, _ := s.Engine.HandleTurn(r.Context(), chi.URLParam(r, "processID"), req)
	s.writeEnvelope(w, env)
}

// PostCallback handles POST /v1/callbacks/{correlationKey}.
func (s *Server) PostCallback(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "CallbackRequest")
	if !ok {
		return
	}
	var req protocol.CallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeEnvelope(w, protocol.FromError(protocol.Invalid(err)))
		return
	}

	env, _ := s.Engine.Resume(r.Context(), chi.URLParam(r, "correlationKey"), req)
	s.writeEnvelope(w, env)
}

// readBody reads and schema-checks a turn or callback body. On failure it writes
// a StatusId 2 envelope.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err == nil {
		err = validateBody(schema, body)
	}
	if err != nil {
		s.logger.Debug("Request body rejected", "path", r.URL.Path, "err", err)
		s.writeEnvelope(w, protocol.FromError(protocol.Invalid(err)))
		return nil, false
	}
	return body, true
}

type problem struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

type activation struct {
	ProcessID   string    `json:"standard_process_id"`
	EntryNodeID string    `json:"entry_node_id"`
	Nodes       int       `json:"nodes"`
	Options     int       `json:"options"`
	CompiledAt  time.Time `json:"compiled_at"`
}

// PutGraph handles PUT /v1/bots/{processID}/graph.
func (s *Server) PutGraph(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err == nil {
		err = validateBody("Graph", body)
	}
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, problem{Error: err.Error()})
		return
	}

	var g domain.Graph
	if err := json.Unmarshal(body, &g); err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, problem{Error: err.Error()})
		return
	}
	switch g.ProcessID {
	case "":
		g.ProcessID = processID
	case processID:
	default:
		s.writeJSON(w, http.StatusBadRequest, problem{
			Error: fmt.Sprintf("standard_process_id %q does not match path %q", g.ProcessID, processID),
		})
		return
	}
	if owner := OwnerFrom(r.Context()); owner != "" {
		if g.UserID != "" && g.UserID != owner {
			s.writeJSON(w, http.StatusForbidden, problem{
				Error: fmt.Sprintf("user_id %q does not match the token owner", g.UserID),
			})
			return
		}
		g.UserID = owner
	}

	current, err := s.Engine.Program(r.Context(), processID)
	switch {
	case err == nil:
		if !ownedBy(r.Context(), current.UserID) {
			s.forbid(w)
			return
		}
	case !errors.Is(err, domain.ErrGraphNotFound):
		s.writeLookupError(w, err)
		return
	}

	p, err := s.Engine.Activate(r.Context(), &g)
	if err != nil {
		var compileErr *compiler.Error
		switch {
		case errors.As(err, &compileErr):
			resp := problem{Error: "graph does not compile"}
			for _, p := range compileErr.Problems {
				resp.Problems = append(resp.Problems, p.Error())
			}
			s.writeJSON(w, http.StatusUnprocessableEntity, resp)
		case errors.Is(err, domain.ErrPersistence):
			s.logger.Error("Graph activation failed", "standard_process_id", processID, "err", err)
			s.writeJSON(w, http.StatusServiceUnavailable, problem{Error: "could not save the graph, please retry"})
		default:
			s.logger.Error("Graph activation failed", "standard_process_id", processID, "err", err)
			s.writeJSON(w, http.StatusInternalServerError, problem{Error: "activation failed"})
		}
		return
	}

	s.writeJSON(w, http.StatusOK, activation{
		ProcessID:   p.ProcessID,
		EntryNodeID: p.EntryNodeID,
		Nodes:       len(p.Nodes),
		Options:     len(p.Options),
		CompiledAt:  p.CompiledAt,
	})
}

// GetGraph handles GET /v1/bots/{processID}/graph.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	p, err := s.Engine.Program(r.Context(), chi.URLParam(r, "processID"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if !ownedBy(r.Context(), p.UserID) {
		s.forbid(w)
		return
	}

	if r.URL.Query().Get("format") == "mermaid" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, graph.GenerateMermaid(p, nil))
		return
	}
	s.writeJSON(w, http.StatusOK, compiler.GraphOf(p))
}

// GetHistory handles GET /v1/sessions/{sessionID}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.Engine.SessionByID(r.Context(), sessionID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if !ownedBy(r.Context(), sess.UserID) {
		s.forbid(w)
		return
	}

	units, err := s.Engine.History(r.Context(), sessionID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		SessionID string        `json:"session_id"`
		Units     []replay.Unit `json:"units"`
	}{sessionID, units})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":         "flowbot-http",
		"version":     s.version,
		"api_version": apiVersion,
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrGraphNotFound), errors.Is(err, domain.ErrSessionNotFound):
		s.writeJSON(w, http.StatusNotFound, problem{Error: err.Error()})
	case errors.Is(err, domain.ErrPersistence):
		s.logger.Error("Lookup failed", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, problem{Error: "storage unavailable, please retry"})
	default:
		s.logger.Error("Lookup failed", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, problem{Error: "internal error"})
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, env *protocol.Envelope) {
	s.writeJSON(w, HTTPStatus(env.StatusID), env)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
