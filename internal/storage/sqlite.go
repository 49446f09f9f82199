package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/symindex/internal/metrics"
	"github.com/dshills/symindex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

const (
	// maxVariables is SQLite's default SQLITE_MAX_VARIABLE_NUMBER on older builds
	maxVariables = 999

	// DefaultInternCacheSize is the number of name ids kept in memory
	DefaultInternCacheSize = 1 << 18
)

// SQLiteStorage implements the Storage interface using SQLite.
//
// The pool is limited to a single connection, so every transaction runs
// serially. That gives the find-or-create in InternBatch and the package
// commit SERIALIZABLE-equivalent isolation without relying on busy retries.
type SQLiteStorage struct {
	db      *sql.DB
	names   *lru.Cache[string, int64]
	metrics *metrics.Metrics
}

// Option configures a SQLiteStorage
type Option func(*storageOptions)

type storageOptions struct {
	cacheSize int
	metrics   *metrics.Metrics
}

// WithInternCacheSize sets the size of the name-id LRU cache
func WithInternCacheSize(n int) Option {
	return func(o *storageOptions) { o.cacheSize = n }
}

// WithMetrics records SQL timings into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *storageOptions) { o.metrics = m }
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode so readers are not blocked by the indexing writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s, err := newStorage(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// newStorage wraps an already-open database without touching its schema
func newStorage(db *sql.DB, opts ...Option) (*SQLiteStorage, error) {
	o := storageOptions{cacheSize: DefaultInternCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.cacheSize <= 0 {
		o.cacheSize = 1
	}

	cache, err := lru.New[string, int64](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create intern cache: %w", err)
	}

	return &SQLiteStorage{db: db, names: cache, metrics: o.metrics}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only reporting
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func storeErr(op string, err error) error {
	return &types.StoreError{Op: op, Err: err}
}

// placeholders returns "?, ?, ..." with n markers
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Repository operations

func (s *SQLiteStorage) RegisterRepo(ctx context.Context, uri, primaryHref string) (*Repo, error) {
	// The no-op update makes RETURNING yield the existing row; primary_href keeps its first value
	query := `
		INSERT INTO repos (uri, primary_href) VALUES (?, ?)
		ON CONFLICT(uri) DO UPDATE SET uri = excluded.uri
		RETURNING id, uri, primary_href
	`
	var repo Repo
	err := s.db.QueryRowContext(ctx, query, uri, primaryHref).Scan(&repo.ID, &repo.URI, &repo.PrimaryHref)
	if err != nil {
		return nil, storeErr("register repo", err)
	}
	return &repo, nil
}

func (s *SQLiteStorage) GetRepo(ctx context.Context, uri string) (*Repo, error) {
	var repo Repo
	err := s.db.QueryRowContext(ctx, `SELECT id, uri, primary_href FROM repos WHERE uri = ?`, uri).
		Scan(&repo.ID, &repo.URI, &repo.PrimaryHref)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get repo", err)
	}
	return &repo, nil
}

func (s *SQLiteStorage) ListRepos(ctx context.Context) ([]*Repo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uri, primary_href FROM repos ORDER BY id`)
	if err != nil {
		return nil, storeErr("list repos", err)
	}
	defer func() { _ = rows.Close() }()

	repos := make([]*Repo, 0)
	for rows.Next() {
		var repo Repo
		if err := rows.Scan(&repo.ID, &repo.URI, &repo.PrimaryHref); err != nil {
			return nil, storeErr("list repos", err)
		}
		repos = append(repos, &repo)
	}
	return repos, rows.Err()
}

// RemoveRepo deletes a repository with its packages, files and symbols.
// Interned strings are left in place: they are shared across repositories.
func (s *SQLiteStorage) RemoveRepo(ctx context.Context, uri string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM repos WHERE uri = ?`, uri)
	if err != nil {
		return storeErr("remove repo", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr("remove repo", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Package operations

func (s *SQLiteStorage) IndexedKeys(ctx context.Context, repoID int64) ([]types.NaturalKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, arch, version, epoch, release FROM packages WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, storeErr("indexed keys", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]types.NaturalKey, 0)
	for rows.Next() {
		var k types.NaturalKey
		if err := rows.Scan(&k.Name, &k.Arch, &k.Version, &k.Epoch, &k.Release); err != nil {
			return nil, storeErr("indexed keys", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// getPackageWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getPackageWithQuerier(ctx context.Context, q querier, repoID int64, key types.NaturalKey) (*Package, error) {
	query := `
		SELECT id FROM packages
		WHERE repo_id = ? AND name = ? AND arch = ? AND version = ? AND epoch = ? AND release = ?
	`
	pkg := Package{RepoID: repoID, NaturalKey: key}
	err := q.QueryRowContext(ctx, query, repoID, key.Name, key.Arch, key.Version, key.Epoch, key.Release).Scan(&pkg.ID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *SQLiteStorage) GetPackage(ctx context.Context, repoID int64, key types.NaturalKey) (*Package, error) {
	pkg, err := s.getPackageWithQuerier(ctx, s.db, repoID, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storeErr("get package", err)
	}
	return pkg, err
}

func (s *SQLiteStorage) ListFilesByPackage(ctx context.Context, packageID int64) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, package_id, name FROM files WHERE package_id = ? ORDER BY id`, packageID)
	if err != nil {
		return nil, storeErr("list files", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.PackageID, &f.Name); err != nil {
			return nil, storeErr("list files", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

// ListSymbolsByFile returns the symbols of a file in the order they were extracted
func (s *SQLiteStorage) ListSymbolsByFile(ctx context.Context, fileID int64) ([]*ElfSymbol, error) {
	query := `
		SELECT e.id, e.file_id, e.name_id, s.name, e.st_info, e.st_other
		FROM elf_symbols e
		JOIN strings s ON s.id = e.name_id
		WHERE e.file_id = ?
		ORDER BY e.id
	`
	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, storeErr("list symbols", err)
	}
	defer func() { _ = rows.Close() }()

	symbols := make([]*ElfSymbol, 0)
	for rows.Next() {
		var sym ElfSymbol
		if err := rows.Scan(&sym.ID, &sym.FileID, &sym.NameID, &sym.Name, &sym.Info, &sym.Other); err != nil {
			return nil, storeErr("list symbols", err)
		}
		symbols = append(symbols, &sym)
	}
	return symbols, rows.Err()
}

// Query operations

// LookupSymbols answers "which packages and files mention these names".
// The join starts from strings and walks idx_elf_symbols_name, so the cost
// follows the number of matching rows rather than the size of elf_symbols.
func (s *SQLiteStorage) LookupSymbols(ctx context.Context, names []string, opts LookupOptions) ([]types.SymbolMatch, error) {
	if len(names) == 0 {
		return []types.SymbolMatch{}, nil
	}
	if len(names) > maxVariables/2 {
		return nil, fmt.Errorf("too many names in one lookup: %d", len(names))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLookupLimit
	}

	var b strings.Builder
	b.WriteString(`
		SELECT r.uri, p.name, p.arch, p.version, p.epoch, p.release, f.name, s.name, e.st_info, e.st_other
		FROM strings s
		JOIN elf_symbols e ON e.name_id = s.id
		JOIN files f ON f.id = e.file_id
		JOIN packages p ON p.id = f.package_id
		JOIN repos r ON r.id = p.repo_id
		WHERE s.name IN (`)
	b.WriteString(placeholders(len(names)))
	b.WriteString(")")

	args := make([]interface{}, 0, len(names)+len(opts.Arches)+2)
	for _, n := range names {
		args = append(args, n)
	}
	if opts.RepoURI != "" {
		b.WriteString(" AND r.uri = ?")
		args = append(args, opts.RepoURI)
	}
	if len(opts.Arches) > 0 {
		b.WriteString(" AND p.arch IN (")
		b.WriteString(placeholders(len(opts.Arches)))
		b.WriteString(")")
		for _, a := range opts.Arches {
			args = append(args, a)
		}
	}
	b.WriteString(" ORDER BY s.name, p.name, f.name, e.id LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, storeErr("lookup symbols", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]types.SymbolMatch, 0)
	for rows.Next() {
		var m types.SymbolMatch
		err := rows.Scan(&m.Repo, &m.Package.Name, &m.Package.Arch, &m.Package.Version,
			&m.Package.Epoch, &m.Package.Release, &m.File, &m.Symbol, &m.Info, &m.Other)
		if err != nil {
			return nil, storeErr("lookup symbols", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// MatchSymbolNames returns interned names matching a GLOB pattern
func (s *SQLiteStorage) MatchSymbolNames(ctx context.Context, glob string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultLookupLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM strings WHERE name GLOB ? ORDER BY name LIMIT ?`, glob, limit)
	if err != nil {
		return nil, storeErr("match symbol names", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, storeErr("match symbol names", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Status operations

func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table string
		dst   *int
	}{
		{"repos", &stats.Repos},
		{"packages", &stats.Packages},
		{"files", &stats.Files},
		{"strings", &stats.Strings},
		{"elf_symbols", &stats.Symbols},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, storeErr("stats", err)
		}
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, storeErr("stats", err)
	}
	stats.SchemaVersion = version
	return stats, nil
}

// IndexVersion reads the package count together with the packages sequence.
// A commit raises the sequence and a removal lowers the count, so no two
// states of the package set share a version.
func (s *SQLiteStorage) IndexVersion(ctx context.Context) (IndexVersion, error) {
	var v IndexVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM packages),
			COALESCE((SELECT seq FROM sqlite_sequence WHERE name = 'packages'), 0)
	`).Scan(&v.Packages, &v.LastPackageID)
	if err != nil {
		return IndexVersion{}, storeErr("index version", err)
	}
	return v, nil
}

// timed runs fn and records its duration against t with n items
func timed(t *metrics.Timer, n int, fn func() error) error {
	start := time.Now()
	err := fn()
	if err == nil {
		t.ObserveSince(n, start)
	}
	return err
}
