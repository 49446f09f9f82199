package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/symindex/internal/indexer"
	"github.com/dshills/symindex/internal/searcher"
	"github.com/dshills/symindex/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "symindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	defaults indexer.Options
	logger   zerolog.Logger
}

// NewServer creates a new MCP server instance. defaults supplies the worker
// and filter settings of index_repository runs; tool arguments override
// the filter.
func NewServer(store storage.Storage, idx *indexer.Indexer, defaults indexer.Options, logger zerolog.Logger) (*Server, error) {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:      mcpServer,
		storage:  store,
		indexer:  idx,
		searcher: searcher.NewSearcher(store),
		defaults: defaults,
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(querySymbolTool(), s.handleQuerySymbol)
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	return nil
}
