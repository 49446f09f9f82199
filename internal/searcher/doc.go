// Package searcher answers reverse symbol lookups against the index.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store)
//
//	resp, err := s.Lookup(ctx, searcher.LookupRequest{
//	    Names: []string{"SSL_CTX_new", "EVP_*"},
//	    Limit: 100,
//	})
//
//	for _, row := range searcher.Rows(resp.Matches) {
//	    fmt.Printf("%s %s %s %s\n", row.Package, row.File, row.Symbol, row.Binding)
//	}
//
// # Names and Wildcards
//
// A name containing * or ? is a wildcard. It is first expanded against the
// interned symbol names (case-sensitive, at most MaxExpandedNames names), and
// the expansion is then looked up like any exact name. Brackets are literal.
//
// Each returned match is one symbol-table entry: a library exporting a
// function in both .symtab and .dynsym yields two matches for that file.
// Matches are ordered by symbol name, package name and file path.
//
// # Filters
//
// RepoURI restricts matches to one repository and Arches to the listed
// package architectures. Limit caps the number of matches; when it is hit,
// LookupResponse.Truncated is set.
//
// # Caching
//
// With UseCache set, responses are kept in an LRU cache for CacheTTL (one
// hour by default). Cached responses are copies, so callers may modify them.
// Call InvalidateCache after indexing so that lookups see new packages.
package searcher
