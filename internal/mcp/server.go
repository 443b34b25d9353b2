package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/careindex/internal/config"
	"github.com/Aman-CERP/careindex/internal/embed"
	"github.com/Aman-CERP/careindex/internal/pipeline"
	"github.com/Aman-CERP/careindex/internal/retrieval"
	"github.com/Aman-CERP/careindex/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "careindex"

// Retriever selects passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topKPrimary, topKSecondary int) (*retrieval.Context, error)
}

// StatusReporter describes the index.
type StatusReporter interface {
	Report() (*pipeline.StatusReport, error)
}

// Server is the MCP server. It never writes to the index.
type Server struct {
	mcp       *mcp.Server
	retriever Retriever
	status    StatusReporter
	embedder  embed.Embedder
	config    *config.Config
	logger    *slog.Logger
}

// NewServer creates a new MCP server. embedder may be nil, in which case it
// is reported as unavailable.
func NewServer(retriever Retriever, status StatusReporter, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if status == nil {
		return nil, errors.New("status reporter is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		retriever: retriever,
		status:    status,
		embedder:  embedder,
		config:    cfg,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// SetLogger replaces the default logger.
func (s *Server) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), toolInfos...)
}

// CallTool invokes a tool by name with loosely typed arguments, as decoded
// from JSON.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRetrieve:
		in := RetrieveInput{}
		in.Query, _ = args["query"].(string)
		if v, ok := args["top_k_primary"].(float64); ok {
			in.TopKPrimary = int(v)
		}
		if v, ok := args["top_k_secondary"].(float64); ok {
			in.TopKSecondary = int(v)
		}
		out, err := s.retrieve(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	case ToolIndexStatus:
		out, err := s.indexStatus(ctx)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) retrieve(ctx context.Context, in RetrieveInput) (*RetrieveOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	if strings.TrimSpace(in.Query) == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	topP := clampK(in.TopKPrimary, s.config.Retrieval.TopKPrimary)
	topS := clampK(in.TopKSecondary, s.config.Retrieval.TopKSecondary)

	s.logger.Info("retrieve_started",
		slog.String("request_id", requestID),
		slog.Int("top_k_primary", topP),
		slog.Int("top_k_secondary", topS))

	res, err := s.retriever.Retrieve(ctx, in.Query, topP, topS)
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("retrieve_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("retrieve_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("primary", len(res.Primary)),
		slog.Int("secondary", len(res.Secondary)),
		slog.Int("dropped", res.Dropped))

	return &RetrieveOutput{
		Context:  res.Format(),
		Passages: res.Passages(),
		Dropped:  res.Dropped,
	}, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	rep, err := s.status.Report()
	if err != nil {
		s.logger.Warn("index_status_failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	out := toIndexStatusOutput(rep)
	out.Embeddings = EmbeddingInfo{
		Provider: s.config.Embeddings.Provider,
		Model:    s.config.Embeddings.Model,
		Status:   "unavailable",
	}
	if s.embedder != nil {
		out.Embeddings.Model = s.embedder.ModelName()
		out.Embeddings.Dimensions = s.embedder.Dimensions()
		if s.embedder.Available(ctx) {
			out.Embeddings.Status = "ready"
		}
	}
	return out, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolRetrieve,
		Description: toolInfos[0].Description,
	}, s.mcpRetrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIndexStatus,
		Description: toolInfos[1].Description,
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(toolInfos)))
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	*RetrieveOutput,
	error,
) {
	out, err := s.retrieve(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// clampK applies the configured default and an upper bound of 20.
func clampK(k, def int) int {
	if k <= 0 {
		k = def
	}
	return min(k, 20)
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
