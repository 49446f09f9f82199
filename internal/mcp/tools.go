package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/symindex/internal/indexer"
	"github.com/dshills/symindex/internal/searcher"
	"github.com/dshills/symindex/internal/storage"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // No symbol names given
)

// maxReportedFailures bounds the failure list in index_repository responses
const maxReportedFailures = 5

// handleQuerySymbol handles the query_symbol tool invocation
func (s *Server) handleQuerySymbol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	names, err := getStringSlice(args, "names")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid names", map[string]interface{}{
			"param":  "names",
			"reason": err.Error(),
		})
	}
	arches, err := getStringSlice(args, "arches")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arches", map[string]interface{}{
			"param":  "arches",
			"reason": err.Error(),
		})
	}

	limit := getIntDefault(args, "limit", DefaultQueryLimit)
	if limit < 1 || limit > MaxQueryLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", MaxQueryLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Lookup(ctx, searcher.LookupRequest{
		Names:    names,
		RepoURI:  strings.TrimRight(getStringDefault(args, "repo", ""), "/"),
		Arches:   arches,
		Limit:    limit,
		UseCache: true,
	})
	if errors.Is(err, searcher.ErrEmptyRequest) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "names parameter is required and cannot be empty", map[string]interface{}{
			"param":  "names",
			"reason": "missing or empty",
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"names":       resp.Names,
		"matches":     searcher.Rows(resp.Matches),
		"total":       len(resp.Matches),
		"truncated":   resp.Truncated,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	uri, ok := args["uri"].(string)
	if !ok || uri == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "uri parameter is required", map[string]interface{}{
			"param":  "uri",
			"reason": "missing or empty",
		})
	}
	if err := validateURI(uri); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid uri", map[string]interface{}{
			"param":  "uri",
			"reason": err.Error(),
		})
	}

	opts := s.defaults
	opts.Force = getBoolDefault(args, "force", false)
	for key, dst := range map[string]*[]string{"arches": &opts.Filter.Arches, "requires": &opts.Filter.Requires} {
		vals, err := getStringSlice(args, key)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid "+key, map[string]interface{}{
				"param":  key,
				"reason": err.Error(),
			})
		}
		if vals != nil {
			*dst = vals
		}
	}

	report, err := s.indexer.IndexRepos(ctx, []string{uri}, opts)
	if errors.Is(err, indexer.ErrRunInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "another indexing operation is already running", nil)
	}
	s.searcher.InvalidateCache()
	if err != nil {
		data := map[string]interface{}{"error": err.Error()}
		if report != nil {
			data["packages_committed"] = report.Committed()
		}
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", data)
	}

	rr := report.Repos[0]
	if rr.Err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "repository metadata unavailable", map[string]interface{}{
			"uri":   rr.URI,
			"error": rr.Err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":            true,
		"run_id":             report.RunID,
		"uri":                rr.URI,
		"packages_listed":    rr.Listed,
		"packages_skipped":   rr.Skipped,
		"packages_committed": len(rr.Committed),
		"packages_existing":  rr.Existing,
		"packages_failed":    len(rr.Failed),
		"files_indexed":      rr.Files,
		"files_failed":       rr.FilesFailed,
		"symbols_indexed":    rr.Symbols,
		"duration_ms":        rr.Duration.Milliseconds(),
	}
	if len(rr.Failed) > 0 {
		failures := make([]string, 0, min(len(rr.Failed), maxReportedFailures))
		for _, f := range rr.Failed[:min(len(rr.Failed), maxReportedFailures)] {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Package, f.Err))
		}
		response["failures"] = failures
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	repoURI := strings.TrimRight(getStringDefault(args, "repo", ""), "/")

	var repos []*storage.Repo
	if repoURI != "" {
		repo, err := s.storage.GetRepo(ctx, repoURI)
		if errors.Is(err, storage.ErrNotFound) {
			response := map[string]interface{}{
				"indexed": false,
				"repo":    repoURI,
				"message": "Repository not indexed. Use index_repository tool to index it.",
			}
			return mcp.NewToolResultText(formatJSON(response)), nil
		}
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to get repository", map[string]interface{}{
				"error": err.Error(),
			})
		}
		repos = append(repos, repo)
	} else {
		var err error
		repos, err = s.storage.ListRepos(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list repositories", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	stats, err := s.storage.Stats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	repoList := make([]map[string]interface{}, 0, len(repos))
	for _, r := range repos {
		keys, err := s.storage.IndexedKeys(ctx, r.ID)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to count packages", map[string]interface{}{
				"error": err.Error(),
			})
		}
		repoList = append(repoList, map[string]interface{}{
			"uri":          r.URI,
			"primary_href": r.PrimaryHref,
			"packages":     len(keys),
		})
	}

	response := map[string]interface{}{
		"indexed":              len(repos) > 0,
		"indexing_in_progress": s.indexer.Running(),
		"repositories":         repoList,
		"statistics": map[string]interface{}{
			"repos":    stats.Repos,
			"packages": stats.Packages,
			"files":    stats.Files,
			"strings":  stats.Strings,
			"symbols":  stats.Symbols,
		},
		"schema_version": stats.SchemaVersion,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validateURI accepts absolute http and https repository locations
func validateURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrURIMalformed
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrURIScheme
	}
	if u.Host == "" {
		return ErrURIHost
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings. A missing key yields nil.
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is not a string", i)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, ErrNotStringArray
	}
}

// Validation helpers

var (
	ErrURIMalformed   = errors.New("uri is malformed")
	ErrURIScheme      = errors.New("uri scheme must be http or https")
	ErrURIHost        = errors.New("uri has no host")
	ErrNotStringArray = errors.New("expected an array of strings")
)
