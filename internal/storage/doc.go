// Package storage provides SQLite-based persistence for the symbol index.
//
// The storage layer manages:
//   - Registered repositories
//   - Packages keyed by (repository, name, arch, version, epoch, release)
//   - ELF files found in package payloads
//   - Interned symbol names
//   - Symbol-table entries referencing interned names
//
// # Database Schema
//
// Tables:
//   - repos: Repository URI and the primary metadata location last used
//   - packages: One row per committed package, unique per natural key
//   - files: Payload paths of ELF files, per package
//   - strings: Every distinct symbol name, stored once
//   - elf_symbols: (file_id, name_id, st_info, st_other) rows
//
// All tables are STRICT. elf_symbols.name_id is an INTEGER foreign key into
// strings, so a symbol row can never carry a raw name or a dangling id.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("symbols.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	repo, err := store.RegisterRepo(ctx, "https://mirror.example/os/x86_64", "")
//
//	// Intern the names first, then commit the package in one transaction
//	ids, err := store.InternBatch(ctx, []string{"malloc", "free"})
//	res, err := store.CommitPackage(ctx, repo.ID, desc, []storage.FileSymbols{{
//	    Path:    "/usr/lib64/libfoo.so.1",
//	    Symbols: []storage.SymbolRow{{NameID: ids["malloc"], Info: 0x12}},
//	}})
//
// # Interning
//
// InternBatch resolves names through an LRU cache and falls back to one
// transaction that inserts the missing names with ON CONFLICT DO NOTHING and
// reads their ids back. Statements are chunked to stay under SQLite's
// 999-variable limit. Cache entries are added only after commit, so the cache
// never holds an id that a rollback discarded.
//
// # Commit Semantics
//
// CommitPackage is all-or-nothing: the package row, its file rows and all
// symbol rows commit together. A natural key that is already stored is a
// no-op reported through CommitResult.Existing.
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// Pure Go Build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO Build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
//
// The connection pool is limited to one connection. Transactions are
// therefore executed one at a time, which makes the find-or-create in
// InternBatch race-free without retry loops.
package storage
