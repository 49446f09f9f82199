package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/symindex/internal/storage"
	"github.com/dshills/symindex/pkg/types"
)

const (
	// DefaultCacheSize is the number of lookups kept in the response cache
	DefaultCacheSize = 1000
	// DefaultCacheTTL applies when a cached request sets no TTL
	DefaultCacheTTL = time.Hour
	// MaxExpandedNames bounds how many symbol names one wildcard may expand to
	MaxExpandedNames = 5000

	// namesPerQuery keeps each store lookup under the bind variable limit
	namesPerQuery = 400
)

// ErrEmptyRequest is returned when a lookup names no symbols
var ErrEmptyRequest = errors.New("no symbol names given")

// LookupRequest contains parameters for a reverse symbol lookup
type LookupRequest struct {
	// Names are exact symbol names or wildcards using * and ?
	Names    []string
	RepoURI  string
	Arches   []string
	Limit    int
	UseCache bool
	CacheTTL time.Duration
}

// LookupResponse contains matches and metadata
type LookupResponse struct {
	Matches []types.SymbolMatch
	// Names are the concrete symbol names that were looked up
	Names []string
	// Truncated is set when Limit or MaxExpandedNames cut the result short
	Truncated bool
	Duration  time.Duration
	CacheHit  bool
}

type cacheEntry struct {
	response  *LookupResponse
	expiresAt time.Time
}

// Searcher answers "which packages, in which files, define or reference
// this symbol"
type Searcher struct {
	storage storage.Storage
	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// NewSearcher creates a Searcher over store
func NewSearcher(store storage.Storage) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](DefaultCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{storage: store, cache: cache}
}

// Lookup resolves the requested names, expanding wildcards, and returns the
// matching symbol-table entries ordered by symbol, package and file
func (s *Searcher) Lookup(ctx context.Context, req LookupRequest) (*LookupResponse, error) {
	start := time.Now()
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid lookup request: %w", err)
	}

	var version storage.IndexVersion
	if req.UseCache {
		v, err := s.storage.IndexVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup failed: %w", err)
		}
		version = v
		if cached := s.checkCache(req, version); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	names, truncated, err := s.expand(ctx, req.Names)
	if err != nil {
		return nil, err
	}

	matches := make([]types.SymbolMatch, 0)
	for i := 0; i < len(names); i += namesPerQuery {
		end := min(i+namesPerQuery, len(names))
		part, err := s.storage.LookupSymbols(ctx, names[i:end], storage.LookupOptions{
			RepoURI: req.RepoURI,
			Arches:  req.Arches,
			Limit:   req.Limit + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("lookup failed: %w", err)
		}
		matches = append(matches, part...)
	}

	sortMatches(matches)
	if len(matches) > req.Limit {
		matches = matches[:req.Limit]
		truncated = true
	}

	resp := &LookupResponse{
		Matches:   matches,
		Names:     names,
		Truncated: truncated,
		Duration:  time.Since(start),
	}
	if req.UseCache {
		s.storeInCache(req, version, resp)
	}
	return resp, nil
}

// expand replaces wildcards with the stored names they match. The result is
// sorted and free of duplicates.
func (s *Searcher) expand(ctx context.Context, patterns []string) ([]string, bool, error) {
	seen := make(map[string]struct{})
	truncated := false
	for _, p := range patterns {
		if !IsWildcard(p) {
			seen[p] = struct{}{}
			continue
		}
		found, err := s.storage.MatchSymbolNames(ctx, GlobFromWildcard(p), MaxExpandedNames+1)
		if err != nil {
			return nil, false, fmt.Errorf("expand %q: %w", p, err)
		}
		if len(found) > MaxExpandedNames {
			found = found[:MaxExpandedNames]
			truncated = true
		}
		for _, n := range found {
			seen[n] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) > MaxExpandedNames {
		names = names[:MaxExpandedNames]
		truncated = true
	}
	return names, truncated, nil
}

// IsWildcard reports whether name uses * or ?
func IsWildcard(name string) bool {
	return strings.ContainsAny(name, "*?")
}

// GlobFromWildcard translates a * and ? wildcard into a SQLite GLOB pattern.
// Brackets have no special meaning in the wildcard, so [ is escaped.
func GlobFromWildcard(w string) string {
	return strings.ReplaceAll(w, "[", "[[]")
}

func validateRequest(req *LookupRequest) error {
	names := make([]string, 0, len(req.Names))
	for _, n := range req.Names {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return ErrEmptyRequest
	}
	req.Names = names

	if req.Limit < 0 {
		return fmt.Errorf("limit must be positive, got %d", req.Limit)
	}
	if req.Limit == 0 {
		req.Limit = storage.DefaultLookupLimit
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// sortMatches orders merged chunks the way the store orders one chunk
func sortMatches(m []types.SymbolMatch) {
	sort.SliceStable(m, func(i, j int) bool {
		a, b := m[i], m[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Package.Name != b.Package.Name {
			return a.Package.Name < b.Package.Name
		}
		return a.File < b.File
	})
}

// checkCache returns a copy of a live cached response, or nil. Responses
// cached against another version of the index never match.
func (s *Searcher) checkCache(req LookupRequest, v storage.IndexVersion) *LookupResponse {
	hash := computeRequestHash(req, v)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	resp := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return resp
}

func (s *Searcher) storeInCache(req LookupRequest, v storage.IndexVersion, resp *LookupResponse) {
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(req.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(computeRequestHash(req, v), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Entries cached before a
// change to the index are already unreachable; this releases them early.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// SymbolMatch holds only value fields, so copying the slice is a deep copy
func copyResponse(src *LookupResponse) *LookupResponse {
	dst := *src
	dst.Matches = make([]types.SymbolMatch, len(src.Matches))
	copy(dst.Matches, src.Matches)
	dst.Names = make([]string, len(src.Names))
	copy(dst.Names, src.Names)
	return &dst
}

func computeRequestHash(req LookupRequest, v storage.IndexVersion) [32]byte {
	var data strings.Builder
	data.WriteString(strings.Join(req.Names, "\x00"))
	data.WriteString("|")
	data.WriteString(req.RepoURI)
	data.WriteString("|")
	data.WriteString(strings.Join(req.Arches, ","))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d|%d:%d", req.Limit, v.Packages, v.LastPackageID))
	return sha256.Sum256([]byte(data.String()))
}

// Row is a display form of a SymbolMatch
type Row struct {
	Repo       string `json:"repo"`
	Package    string `json:"package"`
	File       string `json:"file"`
	Symbol     string `json:"symbol"`
	Binding    string `json:"binding"`
	Type       string `json:"type"`
	Visibility string `json:"visibility"`
}

// Rows converts matches into their display form
func Rows(matches []types.SymbolMatch) []Row {
	rows := make([]Row, len(matches))
	for i, m := range matches {
		rows[i] = Row{
			Repo:       m.Repo,
			Package:    m.Package.String(),
			File:       m.File,
			Symbol:     m.Symbol,
			Binding:    trimEnum(m.Binding().String(), "STB_"),
			Type:       trimEnum(m.Type().String(), "STT_"),
			Visibility: trimEnum(m.Visibility().String(), "STV_"),
		}
	}
	return rows
}

// trimEnum turns "STB_GLOBAL" into "global"
func trimEnum(s, prefix string) string {
	return strings.ToLower(strings.TrimPrefix(s, prefix))
}
