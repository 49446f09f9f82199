// Package mcp implements the Model Context Protocol (MCP) server for symindex.
//
// The MCP server exposes three tools to AI coding assistants:
//   - query_symbol: Find the packages and files that define or reference ELF symbols
//   - index_repository: Index the packages of a yum/dnf repository
//   - get_status: Report index statistics and registered repositories
//
// The server speaks JSON-RPC 2.0 over stdio. It is started via the serve
// command:
//
//	symindex serve
//
// Logs go to stderr; stdout is reserved for the protocol.
//
// # Tool: query_symbol
//
//	Request:
//	{
//	  "name": "query_symbol",
//	  "arguments": {
//	    "names": ["SSL_CTX_new", "EVP_*"],
//	    "arches": ["x86_64"],
//	    "limit": 100
//	  }
//	}
//
//	Response:
//	{
//	  "names": ["EVP_DigestInit", "SSL_CTX_new"],
//	  "matches": [
//	    {
//	      "repo": "https://mirror.example/os",
//	      "package": "openssl-libs-1:3.0.7-27.el9.x86_64",
//	      "file": "/usr/lib64/libssl.so.3.0.7",
//	      "symbol": "SSL_CTX_new",
//	      "binding": "global",
//	      "type": "func",
//	      "visibility": "default"
//	    }
//	  ],
//	  "total": 1,
//	  "truncated": false,
//	  "duration_ms": 3
//	}
//
// Wildcards use * and ? only and are case-sensitive. Results are cached until
// the next index_repository call.
//
// # Tool: index_repository
//
//	Request:
//	{
//	  "name": "index_repository",
//	  "arguments": {
//	    "uri": "https://mirror.example/os",
//	    "force": false,
//	    "arches": ["x86_64", "noarch"],
//	    "requires": ["libssl.so*"]
//	  }
//	}
//
// The call blocks until the run finishes and returns its report. Failed
// packages are counted and the first few are listed under "failures".
//
// # Error Handling
//
// Errors are returned as *MCPError values:
//   - -32602: Invalid params (missing or malformed arguments)
//   - -32603: Internal error (store failure, repository metadata unavailable)
//   - -32002: Indexing in progress
//   - -32004: Empty query
package mcp
