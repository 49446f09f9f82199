package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dshills/symindex/internal/fetcher"
	"github.com/dshills/symindex/internal/indexer"
	"github.com/dshills/symindex/internal/storage"
	"github.com/dshills/symindex/internal/testutil"
)

// ServerTestSuite drives the tool handlers against a real store and a
// local repository server
type ServerTestSuite struct {
	suite.Suite
	store  *storage.SQLiteStorage
	idx    *indexer.Indexer
	server *Server
	repo   *testutil.RepoServer
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	store, err := storage.NewSQLiteStorage(":memory:")
	s.Require().NoError(err)
	s.store = store

	logger := testutil.NewTestLogger(s.T())
	fc := fetcher.DefaultConfig()
	fc.Workers = 2
	fc.StallTimeout = 0
	fc.Retry = fetcher.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	s.idx = indexer.New(store, fetcher.New(fc, logger, nil), indexer.Config{CacheDir: s.T().TempDir()}, logger, nil)

	s.server, err = NewServer(store, s.idx, indexer.Options{ExtractWorkers: 2}, logger)
	s.Require().NoError(err)

	s.repo = testutil.NewRepoServer(s.T())
	s.repo.PublishPrimaryXML(
		samplePackage("libfoo", "x86_64", testutil.File("./usr/lib64/libfoo.so.1", testutil.BuildELF(nil,
			[]testutil.ELFSymbol{testutil.Func("foo_init"), testutil.Func("foo_fini"), testutil.Undef("malloc")}))),
		samplePackage("libfoo", "i686", testutil.File("./usr/lib/libfoo.so.1", testutil.BuildELF(nil,
			[]testutil.ELFSymbol{testutil.Func("foo_init")}))),
	)
}

func (s *ServerTestSuite) TearDownTest() {
	_ = s.store.Close()
}

func samplePackage(name, arch string, entries ...testutil.CPIOEntry) testutil.PrimaryPackage {
	return testutil.PrimaryPackage{
		Name: name, Arch: arch, Version: "2.1", Release: "3",
		Href: fmt.Sprintf("Packages/%s-2.1-3.%s.rpm", name, arch),
		Data: testutil.BuildRPM(testutil.RPMSpec{
			Name: name, Version: "2.1", Release: "3", Arch: arch,
			Payload: testutil.BuildCPIO(false, entries...),
		}),
	}
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// decodeResult unmarshals the JSON text content of a tool result
func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "result should be text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func (s *ServerTestSuite) requireMCPError(err error, code int) *MCPError {
	s.Require().Error(err)
	var mcpErr *MCPError
	s.Require().ErrorAs(err, &mcpErr)
	s.Equal(code, mcpErr.Code)
	return mcpErr
}

func (s *ServerTestSuite) indexSample() map[string]interface{} {
	result, err := s.server.handleIndexRepository(context.Background(), callRequest("index_repository", map[string]interface{}{
		"uri": s.repo.URL,
	}))
	s.Require().NoError(err)
	return decodeResult(s.T(), result)
}

func (s *ServerTestSuite) TestIndexThenQuery() {
	out := s.indexSample()
	s.Equal(true, out["indexed"])
	s.NotEmpty(out["run_id"])
	s.EqualValues(2, out["packages_listed"])
	s.EqualValues(2, out["packages_committed"])
	s.EqualValues(4, out["symbols_indexed"])
	s.NotContains(out, "failures")

	result, err := s.server.handleQuerySymbol(context.Background(), callRequest("query_symbol", map[string]interface{}{
		"names": []interface{}{"foo_init"},
	}))
	s.Require().NoError(err)
	out = decodeResult(s.T(), result)
	s.EqualValues(2, out["total"])
	s.Equal(false, out["truncated"])

	matches, ok := out["matches"].([]interface{})
	s.Require().True(ok)
	s.Require().Len(matches, 2)
	first := matches[0].(map[string]interface{})
	s.Equal("foo_init", first["symbol"])
	s.Equal("global", first["binding"])
	s.Equal("func", first["type"])
	s.Equal(s.repo.URL, first["repo"])
}

func (s *ServerTestSuite) TestQueryWildcardWithArchFilter() {
	s.indexSample()

	result, err := s.server.handleQuerySymbol(context.Background(), callRequest("query_symbol", map[string]interface{}{
		"names":  []interface{}{"foo_*"},
		"arches": []interface{}{"x86_64"},
		"limit":  float64(10),
	}))
	s.Require().NoError(err)
	out := decodeResult(s.T(), result)
	s.Equal([]interface{}{"foo_fini", "foo_init"}, out["names"])
	s.EqualValues(2, out["total"])
	for _, m := range out["matches"].([]interface{}) {
		s.Equal("libfoo-2.1-3.x86_64", m.(map[string]interface{})["package"])
	}
}

func (s *ServerTestSuite) TestQueryIndexInvalidatesCache() {
	ctx := context.Background()
	req := callRequest("query_symbol", map[string]interface{}{"names": []interface{}{"foo_init"}})

	result, err := s.server.handleQuerySymbol(ctx, req)
	s.Require().NoError(err)
	s.EqualValues(0, decodeResult(s.T(), result)["total"])

	s.indexSample()

	result, err = s.server.handleQuerySymbol(ctx, req)
	s.Require().NoError(err)
	s.EqualValues(2, decodeResult(s.T(), result)["total"])
}

func (s *ServerTestSuite) TestQueryInvalidParams() {
	ctx := context.Background()

	_, err := s.server.handleQuerySymbol(ctx, callRequest("query_symbol", map[string]interface{}{}))
	s.requireMCPError(err, ErrorCodeEmptyQuery)

	_, err = s.server.handleQuerySymbol(ctx, callRequest("query_symbol", map[string]interface{}{
		"names": []interface{}{" "},
	}))
	s.requireMCPError(err, ErrorCodeEmptyQuery)

	_, err = s.server.handleQuerySymbol(ctx, callRequest("query_symbol", map[string]interface{}{
		"names": "foo_init",
	}))
	s.requireMCPError(err, ErrorCodeInvalidParams)

	_, err = s.server.handleQuerySymbol(ctx, callRequest("query_symbol", map[string]interface{}{
		"names": []interface{}{"foo_init", 7},
	}))
	s.requireMCPError(err, ErrorCodeInvalidParams)

	for _, limit := range []float64{0, MaxQueryLimit + 1} {
		_, err = s.server.handleQuerySymbol(ctx, callRequest("query_symbol", map[string]interface{}{
			"names": []interface{}{"foo_init"},
			"limit": limit,
		}))
		mcpErr := s.requireMCPError(err, ErrorCodeInvalidParams)
		s.Equal("limit", mcpErr.Data.(map[string]interface{})["param"])
	}
}

func (s *ServerTestSuite) TestIndexInvalidParams() {
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing uri", map[string]interface{}{}},
		{"empty uri", map[string]interface{}{"uri": ""}},
		{"unsupported scheme", map[string]interface{}{"uri": "ftp://mirror.example/os"}},
		{"no host", map[string]interface{}{"uri": "http:///os"}},
		{"bad arches", map[string]interface{}{"uri": s.repo.URL, "arches": "x86_64"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.server.handleIndexRepository(ctx, callRequest("index_repository", tt.args))
			s.requireMCPError(err, ErrorCodeInvalidParams)
		})
	}
	s.False(s.idx.Running())
}

func (s *ServerTestSuite) TestIndexWithFilter() {
	result, err := s.server.handleIndexRepository(context.Background(), callRequest("index_repository", map[string]interface{}{
		"uri":    s.repo.URL,
		"arches": []interface{}{"i686"},
	}))
	s.Require().NoError(err)
	out := decodeResult(s.T(), result)
	s.EqualValues(1, out["packages_committed"])

	// A second run skips what is already indexed; force re-processes it
	out = s.indexSample()
	s.EqualValues(1, out["packages_committed"])
	s.EqualValues(1, out["packages_skipped"])

	result, err = s.server.handleIndexRepository(context.Background(), callRequest("index_repository", map[string]interface{}{
		"uri":   s.repo.URL,
		"force": true,
	}))
	s.Require().NoError(err)
	out = decodeResult(s.T(), result)
	s.EqualValues(0, out["packages_committed"])
	s.EqualValues(2, out["packages_existing"])
}

func (s *ServerTestSuite) TestIndexReportsPackageFailures() {
	s.repo.Remove("/Packages/libfoo-2.1-3.i686.rpm")

	out := s.indexSample()
	s.EqualValues(1, out["packages_committed"])
	s.EqualValues(1, out["packages_failed"])
	failures, ok := out["failures"].([]interface{})
	s.Require().True(ok)
	s.Require().Len(failures, 1)
	s.Contains(failures[0], "libfoo-2.1-3.i686")
}

func (s *ServerTestSuite) TestIndexMetadataUnavailable() {
	s.repo.Remove("/repodata/repomd.xml")

	_, err := s.server.handleIndexRepository(context.Background(), callRequest("index_repository", map[string]interface{}{
		"uri": s.repo.URL,
	}))
	mcpErr := s.requireMCPError(err, ErrorCodeInternalError)
	s.Equal("repository metadata unavailable", mcpErr.Message)
}

func (s *ServerTestSuite) TestIndexingInProgress() {
	release := make(chan struct{})
	blocking := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		http.NotFound(w, r)
	}))
	defer blocking.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.server.handleIndexRepository(context.Background(), callRequest("index_repository", map[string]interface{}{
			"uri": blocking.URL,
		}))
	}()

	s.Require().Eventually(s.idx.Running, time.Second, time.Millisecond)

	result, err := s.server.handleGetStatus(context.Background(), callRequest("get_status", nil))
	s.Require().NoError(err)
	s.Equal(true, decodeResult(s.T(), result)["indexing_in_progress"])

	_, err = s.server.handleIndexRepository(context.Background(), callRequest("index_repository", map[string]interface{}{
		"uri": s.repo.URL,
	}))
	s.requireMCPError(err, ErrorCodeIndexingInProgress)

	close(release)
	<-done
	s.False(s.idx.Running())
}

func (s *ServerTestSuite) TestGetStatus() {
	ctx := context.Background()

	result, err := s.server.handleGetStatus(ctx, callRequest("get_status", nil))
	s.Require().NoError(err)
	out := decodeResult(s.T(), result)
	s.Equal(false, out["indexed"])
	s.Equal(false, out["indexing_in_progress"])
	s.NotEmpty(out["schema_version"])

	s.indexSample()

	result, err = s.server.handleGetStatus(ctx, callRequest("get_status", map[string]interface{}{}))
	s.Require().NoError(err)
	out = decodeResult(s.T(), result)
	s.Equal(true, out["indexed"])
	repos := out["repositories"].([]interface{})
	s.Require().Len(repos, 1)
	s.Equal(s.repo.URL, repos[0].(map[string]interface{})["uri"])
	s.EqualValues(2, repos[0].(map[string]interface{})["packages"])
	stats := out["statistics"].(map[string]interface{})
	s.EqualValues(2, stats["packages"])
	s.EqualValues(4, stats["symbols"])

	result, err = s.server.handleGetStatus(ctx, callRequest("get_status", map[string]interface{}{
		"repo": s.repo.URL + "/",
	}))
	s.Require().NoError(err)
	s.Len(decodeResult(s.T(), result)["repositories"], 1)

	result, err = s.server.handleGetStatus(ctx, callRequest("get_status", map[string]interface{}{
		"repo": "https://unknown.example/os",
	}))
	s.Require().NoError(err)
	out = decodeResult(s.T(), result)
	s.Equal(false, out["indexed"])
	s.Contains(out["message"], "index_repository")
}

func TestNewServerRegistersTools(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	logger := testutil.NewTestLogger(t)
	idx := indexer.New(store, fetcher.New(fetcher.DefaultConfig(), logger, nil), indexer.Config{CacheDir: t.TempDir()}, logger, nil)
	srv, err := NewServer(store, idx, indexer.Options{}, logger)
	require.NoError(t, err)

	tools := srv.mcp.ListTools()
	require.Len(t, tools, 3)
	for _, name := range []string{"query_symbol", "index_repository", "get_status"} {
		require.Contains(t, tools, name)
	}
}

func TestGetStringSlice(t *testing.T) {
	args := map[string]interface{}{
		"list":   []interface{}{"a", "b"},
		"typed":  []string{"c"},
		"scalar": "a",
		"mixed":  []interface{}{"a", 1},
		"null":   nil,
	}

	got, err := getStringSlice(args, "list")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)

	got, err = getStringSlice(args, "typed")
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, got)

	got, err = getStringSlice(args, "missing")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = getStringSlice(args, "null")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = getStringSlice(args, "scalar")
	require.ErrorIs(t, err, ErrNotStringArray)

	_, err = getStringSlice(args, "mixed")
	require.Error(t, err)
}
