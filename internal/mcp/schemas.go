package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// DefaultQueryLimit applies when query_symbol sets no limit
	DefaultQueryLimit = 100
	// MaxQueryLimit is the largest limit query_symbol accepts
	MaxQueryLimit = 1000
)

// querySymbolTool returns the tool definition for query_symbol
func querySymbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "query_symbol",
		Description: "Find the RPM packages and files that define or reference ELF symbols",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"names": map[string]interface{}{
					"type":        "array",
					"description": "Symbol names; * and ? act as wildcards (e.g. 'SSL_CTX_*')",
					"items": map[string]interface{}{
						"type": "string",
					},
					"minItems": 1,
				},
				"repo": map[string]interface{}{
					"type":        "string",
					"description": "Only return packages of this repository URI",
				},
				"arches": map[string]interface{}{
					"type":        "array",
					"description": "Only return packages of these architectures",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of matches to return",
					"default":     DefaultQueryLimit,
					"minimum":     1,
					"maximum":     MaxQueryLimit,
				},
			},
			Required: []string{"names"},
		},
	}
}

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index the ELF symbols of every package in a yum/dnf repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"uri": map[string]interface{}{
					"type":        "string",
					"description": "Repository base URI (the directory containing repodata/)",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-process packages that are already indexed",
					"default":     false,
				},
				"arches": map[string]interface{}{
					"type":        "array",
					"description": "Only index packages of these architectures",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"requires": map[string]interface{}{
					"type":        "array",
					"description": "Only index packages with a requires entry matching one of these wildcards",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"uri"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and the registered repositories",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo": map[string]interface{}{
					"type":        "string",
					"description": "Report on this repository URI only",
				},
			},
		},
	}
}
