// Package mcp exposes the engine as Model Context Protocol tools, so an agent can
// converse with bots, answer webservice callbacks and inspect graphs.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const graphURIPrefix = "flowbot://graphs/"

// Engine defines the operations the MCP server needs.
type Engine interface {
	HandleTurn(ctx context.Context, processID string, req protocol.TurnRequest) (*protocol.Envelope, error)
	Resume(ctx context.Context, correlationKey string, req protocol.CallbackRequest) (*protocol.Envelope, error)
	Activate(ctx context.Context, g *domain.Graph) (*domain.Program, error)
	Program(ctx context.Context, processID string) (*domain.Program, error)
	History(ctx context.Context, sessionID string) ([]replay.Unit, error)
}

// SendMessageArgs are the arguments of send_message.
type SendMessageArgs struct {
	ProcessID string `json:"standard_process_id"`
	Phone     string `json:"phone"`
	Text      string `json:"text"`
}

// ResumeArgs are the arguments of resume_webservice.
type ResumeArgs struct {
	CorrelationKey string `json:"correlation_key"`
	Value          string `json:"value"`
	Variables      string `json:"variables"`
}

// HistoryArgs are the arguments of get_history.
type HistoryArgs struct {
	SessionID string `json:"session_id"`
}

// GraphArgs are the arguments of get_graph.
type GraphArgs struct {
	ProcessID string `json:"standard_process_id"`
	Format    string `json:"format"`
}

// ActivateArgs are the arguments of activate_graph.
type ActivateArgs struct {
	Graph string `json:"graph"`
}

// HistoryResponse is the structured result of get_history.
type HistoryResponse struct {
	SessionID string        `json:"session_id" jsonschema_description:"The session replayed"`
	Units     []replay.Unit `json:"units" jsonschema_description:"Display units in conversation order"`
}

// Server wraps the Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, version string, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("flowbot-mcp", strings.TrimSpace(version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the protocol over SSE on addr until ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	// TOOL: send_message
	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send an end-user message to a bot and return the response envelope."),
		mcp.WithString("standard_process_id", mcp.Required(), mcp.Description("The bot to talk to")),
		mcp.WithString("phone", mcp.Required(), mcp.Description("End-user phone number identifying the session")),
		mcp.WithString("text", mcp.Description("Message text")),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))

	// TOOL: resume_webservice
	s.mcpServer.AddTool(mcp.NewTool("resume_webservice",
		mcp.WithDescription("Answer the webservice call of a parked session."),
		mcp.WithString("correlation_key", mcp.Required(), mcp.Description("Key announced in the waitingwebservice control")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Outcome routed through the webservice node")),
		mcp.WithString("variables", mcp.Description("JSON object of string variables to merge into the session (optional)")),
	), mcp.NewStructuredToolHandler(s.handleResume))

	// TOOL: get_history
	s.mcpServer.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("Replay the conversation of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithOutputSchema[HistoryResponse](),
	), mcp.NewStructuredToolHandler(s.handleHistory))

	// TOOL: get_graph
	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get the active graph of a bot, as editor JSON or a Mermaid flowchart."),
		mcp.WithString("standard_process_id", mcp.Required(), mcp.Description("The bot")),
		mcp.WithString("format", mcp.Enum("json", "mermaid"), mcp.Description("Output format (default json)")),
	), mcp.NewTypedToolHandler(s.handleGraph))

	// TOOL: activate_graph
	s.mcpServer.AddTool(mcp.NewTool("activate_graph",
		mcp.WithDescription("Compile and activate an editor graph. Compile problems are reported, and the previous graph stays active."),
		mcp.WithString("graph", mcp.Required(), mcp.Description("Graph JSON document")),
	), mcp.NewTypedToolHandler(s.handleActivate))
}

func (s *Server) handleSendMessage(ctx context.Context, _ mcp.CallToolRequest, args SendMessageArgs) (*protocol.Envelope, error) {
	env, err := s.engine.HandleTurn(ctx, args.ProcessID, protocol.TurnRequest{Phone: args.Phone, Text: args.Text})
	if err != nil {
		s.logger.Debug("MCP send_message: turn rejected", "standard_process_id", args.ProcessID, "err", err)
	}
	// The envelope classifies failures itself.
	return env, nil
}

func (s *Server) handleResume(ctx context.Context, _ mcp.CallToolRequest, args ResumeArgs) (*protocol.Envelope, error) {
	req := protocol.CallbackRequest{Value: args.Value}
	if args.Variables != "" {
		if err := json.Unmarshal([]byte(args.Variables), &req.Variables); err != nil {
			return protocol.FromError(protocol.Invalid(fmt.Errorf("variables: %w", err))), nil
		}
	}
	env, err := s.engine.Resume(ctx, args.CorrelationKey, req)
	if err != nil {
		s.logger.Debug("MCP resume_webservice: callback rejected", "correlation_key", args.CorrelationKey, "err", err)
	}
	return env, nil
}

func (s *Server) handleHistory(ctx context.Context, _ mcp.CallToolRequest, args HistoryArgs) (HistoryResponse, error) {
	units, err := s.engine.History(ctx, args.SessionID)
	if err != nil {
		return HistoryResponse{}, fmt.Errorf("history failed: %w", err)
	}
	return HistoryResponse{SessionID: args.SessionID, Units: units}, nil
}

func (s *Server) handleGraph(ctx context.Context, _ mcp.CallToolRequest, args GraphArgs) (*mcp.CallToolResult, error) {
	p, err := s.engine.Program(ctx, args.ProcessID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("inspect failed: %v", err)), nil
	}
	if args.Format == "mermaid" {
		return mcp.NewToolResultText(graph.GenerateMermaid(p, nil)), nil
	}
	jsonBytes, err := json.Marshal(compiler.GraphOf(p))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleActivate(ctx context.Context, _ mcp.CallToolRequest, args ActivateArgs) (*mcp.CallToolResult, error) {
	var g domain.Graph
	if err := json.Unmarshal([]byte(args.Graph), &g); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph document: %v", err)), nil
	}

	p, err := s.engine.Activate(ctx, &g)
	if err != nil {
		var compileErr *compiler.Error
		if errors.As(err, &compileErr) {
			msgs := make([]string, 0, len(compileErr.Problems))
			for _, p := range compileErr.Problems {
				msgs = append(msgs, "- "+p.Error())
			}
			return mcp.NewToolResultError("graph does not compile:\n" + strings.Join(msgs, "\n")), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("activation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("activated %s: %d nodes, entry %q",
		p.ProcessID, len(p.Nodes), p.EntryNodeID)), nil
}

func (s *Server) registerResources() {
	// EXPOSE: flowbot://graphs/{standard_process_id}
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(graphURIPrefix+"{standard_process_id}", "Active Graph",
		mcp.WithTemplateMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		uri := request.Params.URI
		processID := strings.TrimPrefix(uri, graphURIPrefix)
		p, err := s.engine.Program(ctx, processID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect graph: %w", err)
		}
		jsonBytes, err := json.Marshal(compiler.GraphOf(p))
		if err != nil {
			return nil, err
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
