package searcher

import (
	"context"
	"debug/elf"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/symindex/internal/storage"
	"github.com/dshills/symindex/pkg/types"
)

const testRepo = "https://mirror.example/os"

type seedFile struct {
	path string
	syms []string
}

func setupStore(t testing.TB) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedPackage(t testing.TB, store *storage.SQLiteStorage, repoURI, name, arch string, files ...seedFile) {
	t.Helper()
	ctx := context.Background()

	repo, err := store.RegisterRepo(ctx, repoURI, "repodata/primary.xml.gz")
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.syms...)
	}
	ids, err := store.InternBatch(ctx, names)
	require.NoError(t, err)

	info := elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)
	rows := make([]storage.FileSymbols, len(files))
	for i, f := range files {
		rows[i].Path = f.path
		for _, s := range f.syms {
			rows[i].Symbols = append(rows[i].Symbols, storage.SymbolRow{NameID: ids[s], Info: info})
		}
	}

	desc := types.PackageDescriptor{
		NaturalKey: types.NaturalKey{Name: name, Arch: arch, Version: "1.0", Epoch: "0", Release: "1"},
		Location:   fmt.Sprintf("Packages/%s-1.0-1.%s.rpm", name, arch),
	}
	_, err = store.CommitPackage(ctx, repo.ID, desc, rows)
	require.NoError(t, err)
}

func seedSample(t *testing.T) *storage.SQLiteStorage {
	store := setupStore(t)
	seedPackage(t, store, testRepo, "libssl", "x86_64",
		seedFile{"/usr/lib64/libssl.so.3", []string{"SSL_new", "SSL_free", "malloc"}})
	seedPackage(t, store, testRepo, "libssl", "i686",
		seedFile{"/usr/lib/libssl.so.3", []string{"SSL_new", "malloc"}})
	seedPackage(t, store, testRepo, "curl", "x86_64",
		seedFile{"/usr/bin/curl", []string{"SSL_new", "malloc", "operator[]"}})
	seedPackage(t, store, "https://other.example/os", "wget", "x86_64",
		seedFile{"/usr/bin/wget", []string{"SSL_new"}})
	return store
}

func TestLookup_ExactName(t *testing.T) {
	s := NewSearcher(seedSample(t))

	resp, err := s.Lookup(context.Background(), LookupRequest{Names: []string{"malloc"}})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 3)
	assert.Equal(t, []string{"malloc"}, resp.Names)
	assert.False(t, resp.Truncated)
	assert.False(t, resp.CacheHit)

	assert.Equal(t, "curl", resp.Matches[0].Package.Name)
	assert.Equal(t, "libssl", resp.Matches[1].Package.Name)
	assert.Equal(t, "/usr/lib/libssl.so.3", resp.Matches[1].File)
	assert.Equal(t, "/usr/lib64/libssl.so.3", resp.Matches[2].File)
	for _, m := range resp.Matches {
		assert.Equal(t, testRepo, m.Repo)
		assert.Equal(t, "malloc", m.Symbol)
	}
}

func TestLookup_UnknownName(t *testing.T) {
	s := NewSearcher(seedSample(t))

	resp, err := s.Lookup(context.Background(), LookupRequest{Names: []string{"does_not_exist"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Matches)
	assert.NotNil(t, resp.Matches)
}

func TestLookup_Wildcards(t *testing.T) {
	s := NewSearcher(seedSample(t))
	ctx := context.Background()

	resp, err := s.Lookup(ctx, LookupRequest{Names: []string{"SSL_*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"SSL_free", "SSL_new"}, resp.Names)
	assert.Len(t, resp.Matches, 5)
	assert.Equal(t, "SSL_free", resp.Matches[0].Symbol)

	resp, err = s.Lookup(ctx, LookupRequest{Names: []string{"SSL_ne?"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"SSL_new"}, resp.Names)

	// Brackets are literal
	resp, err = s.Lookup(ctx, LookupRequest{Names: []string{"operator[]*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"operator[]"}, resp.Names)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "/usr/bin/curl", resp.Matches[0].File)

	// Globs are case-sensitive
	resp, err = s.Lookup(ctx, LookupRequest{Names: []string{"ssl_*"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Names)
	assert.Empty(t, resp.Matches)

	// Exact names and wildcards are merged without duplicates
	resp, err = s.Lookup(ctx, LookupRequest{Names: []string{"SSL_new", "SSL_*", " "}})
	require.NoError(t, err)
	assert.Equal(t, []string{"SSL_free", "SSL_new"}, resp.Names)
}

func TestLookup_Filters(t *testing.T) {
	s := NewSearcher(seedSample(t))
	ctx := context.Background()

	resp, err := s.Lookup(ctx, LookupRequest{Names: []string{"SSL_new"}, RepoURI: testRepo})
	require.NoError(t, err)
	assert.Len(t, resp.Matches, 3)

	resp, err = s.Lookup(ctx, LookupRequest{Names: []string{"SSL_new"}, Arches: []string{"i686"}})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "i686", resp.Matches[0].Package.Arch)
}

func TestLookup_Limit(t *testing.T) {
	s := NewSearcher(seedSample(t))

	resp, err := s.Lookup(context.Background(), LookupRequest{Names: []string{"SSL_new"}, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Matches, 2)
	assert.True(t, resp.Truncated)

	resp, err = s.Lookup(context.Background(), LookupRequest{Names: []string{"SSL_new"}, Limit: 4})
	require.NoError(t, err)
	assert.Len(t, resp.Matches, 4)
	assert.False(t, resp.Truncated)
}

func TestLookup_ManyNames(t *testing.T) {
	store := setupStore(t)
	names := make([]string, 450)
	for i := range names {
		names[i] = fmt.Sprintf("sym_%04d", i)
	}
	seedPackage(t, store, testRepo, "big", "x86_64", seedFile{"/usr/lib64/libbig.so", names})

	s := NewSearcher(store)
	resp, err := s.Lookup(context.Background(), LookupRequest{Names: names})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 450)
	assert.Equal(t, "sym_0000", resp.Matches[0].Symbol)
	assert.Equal(t, "sym_0449", resp.Matches[449].Symbol)
}

func TestLookup_InvalidRequest(t *testing.T) {
	s := NewSearcher(setupStore(t))

	_, err := s.Lookup(context.Background(), LookupRequest{})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = s.Lookup(context.Background(), LookupRequest{Names: []string{"  "}})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = s.Lookup(context.Background(), LookupRequest{Names: []string{"x"}, Limit: -1})
	assert.Error(t, err)
}

func TestLookup_Cache(t *testing.T) {
	store := seedSample(t)
	s := NewSearcher(store)
	ctx := context.Background()
	req := LookupRequest{Names: []string{"malloc"}, UseCache: true}

	first, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())

	first.Matches[0].Symbol = "changed"

	second, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	require.Len(t, second.Matches, 3)
	assert.Equal(t, "malloc", second.Matches[0].Symbol)

	s.InvalidateCache()
	assert.Equal(t, 0, s.CacheLen())
	third, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Len(t, third.Matches, 3)
}

func TestLookup_CacheFollowsIndexChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	reader, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })
	writer, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	seedPackage(t, writer, testRepo, "libssl", "x86_64",
		seedFile{"/usr/lib64/libssl.so.3", []string{"SSL_new", "malloc"}})
	seedPackage(t, writer, "https://other.example/os", "wget", "x86_64",
		seedFile{"/usr/bin/wget", []string{"SSL_new"}})

	s := NewSearcher(reader)
	ctx := context.Background()
	req := LookupRequest{Names: []string{"SSL_new"}, UseCache: true}

	first, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.Len(t, first.Matches, 2)

	// The writer never tells this searcher about its commits
	seedPackage(t, writer, testRepo, "curl", "x86_64",
		seedFile{"/usr/bin/curl", []string{"SSL_new"}})
	added, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.False(t, added.CacheHit)
	assert.Len(t, added.Matches, 3)

	cached, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)

	require.NoError(t, writer.RemoveRepo(ctx, "https://other.example/os"))
	removed, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.False(t, removed.CacheHit)
	assert.Len(t, removed.Matches, 2)
}

func TestLookup_CacheExpires(t *testing.T) {
	s := NewSearcher(seedSample(t))
	ctx := context.Background()
	req := LookupRequest{Names: []string{"malloc"}, UseCache: true, CacheTTL: time.Millisecond}

	_, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	resp, err := s.Lookup(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestRows(t *testing.T) {
	rows := Rows([]types.SymbolMatch{{
		Repo:    testRepo,
		Package: types.NaturalKey{Name: "libssl", Arch: "x86_64", Version: "3.0", Epoch: "1", Release: "2"},
		File:    "/usr/lib64/libssl.so.3",
		Symbol:  "SSL_new",
		Info:    elf.ST_INFO(elf.STB_WEAK, elf.STT_OBJECT),
		Other:   uint8(elf.STV_HIDDEN),
	}})
	require.Len(t, rows, 1)
	assert.Equal(t, Row{
		Repo:       testRepo,
		Package:    "libssl-1:3.0-2.x86_64",
		File:       "/usr/lib64/libssl.so.3",
		Symbol:     "SSL_new",
		Binding:    "weak",
		Type:       "object",
		Visibility: "hidden",
	}, rows[0])
}

func TestWildcardHelpers(t *testing.T) {
	assert.True(t, IsWildcard("SSL_*"))
	assert.True(t, IsWildcard("f?o"))
	assert.False(t, IsWildcard("operator[]"))

	assert.Equal(t, "SSL_*", GlobFromWildcard("SSL_*"))
	assert.Equal(t, "operator[[]]*", GlobFromWildcard("operator[]*"))
}
