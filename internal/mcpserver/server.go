// Package mcpserver exposes CodeScope's dispatcher, indexer, and
// discovery layers as MCP tools over JSON-RPC. It bridges AI clients to
// the hybrid search engine the same way the teacher's internal/mcp did,
// generalized from one search tool to the six the spec names.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codescope/codescope/internal/async"
	"github.com/codescope/codescope/internal/dispatcher"
	"github.com/codescope/codescope/internal/discovery"
	"github.com/codescope/codescope/internal/indexer"
)

// Version is stamped into the MCP implementation metadata; cmd/codescope
// overrides it at build time via -ldflags the same way the teacher's
// pkg/version does.
var Version = "dev"

// Server is the MCP server for CodeScope.
type Server struct {
	mcp        *mcp.Server
	dispatcher *dispatcher.Dispatcher
	worker     *indexer.Worker
	background *async.BackgroundIndexer
	discovery  discovery.Result
	logger     *slog.Logger

	mu sync.RWMutex
}

// New builds a Server. worker and background may be nil, in which case
// index_file and reindex report themselves unavailable rather than
// panicking; disc is the discovery.Result that located (or failed to
// locate) the active index, used for the status tool's health report.
func New(disp *dispatcher.Dispatcher, worker *indexer.Worker, background *async.BackgroundIndexer, disc discovery.Result) *Server {
	s := &Server{
		dispatcher: disp,
		worker:     worker,
		background: background,
		discovery:  disc,
		logger:     slog.Default(),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "codescope",
		Version: Version,
	}, nil)

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed codebase across plugin, semantic, and keyword tiers and return a fused, ranked hit list.",
	}, s.searchCodeHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "symbol_lookup",
		Description: "Resolve a symbol's definition site by name.",
	}, s.symbolLookupHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_references",
		Description: "List every reference occurrence of a symbol by name.",
	}, s.findReferencesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_file",
		Description: "Index (or, if deleted, retire) one file on demand, outside the watcher's debounce window.",
	}, s.indexFileHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Schedule a full background reindex of the repository root.",
	}, s.reindexHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report index discovery, storage, plugin, and semantic health.",
	}, s.statusHandler)
}

// MCPServer exposes the underlying SDK server, for tests and for a host
// process that wants to attach additional transports.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Serve runs the server until ctx is canceled or the transport errors.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	switch transport {
	case "", "stdio":
		s.logger.Info("starting mcp server", slog.String("transport", "stdio"))
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
		}
		return err
	case "sse":
		return fmt.Errorf("sse transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The SDK server itself has none; it
// stops when ctx passed to Serve is canceled.
func (s *Server) Close() error { return nil }
