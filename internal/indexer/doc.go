// Package indexer coordinates the end-to-end indexing pipeline that maps ELF
// symbols to the RPM packages defining or referencing them.
//
// # Basic Usage
//
//	idx := indexer.New(store, fetch, indexer.Config{CacheDir: cacheDir}, logger, m)
//
//	report, err := idx.IndexRepos(ctx, []string{"https://mirror.example/fedora/x86_64/os"}, indexer.Options{
//	    Filter: repomd.Filter{Arches: []string{"x86_64", "noarch"}},
//	})
//	if err != nil {
//	    // store failure: report still lists what was committed
//	}
//
// # Indexing Pipeline
//
// Each repository runs through four stages connected by bounded channels:
//
//  1. Resolve: read repomd.xml and the primary package list, apply the filter
//  2. Fetch: download each package, open the RPM envelope, decompress the
//     payload and read its ELF entries out of the cpio archive
//  3. Extract: parse .symtab and .dynsym of every ELF entry
//  4. Commit: intern symbol names, then write the package, its files and
//     their symbols in one transaction
//
// Fetch concurrency is the fetcher's worker limit; extraction runs
// Options.ExtractWorkers goroutines (runtime.NumCPU() by default). A single
// goroutine commits, so every write transaction is short and serial. When a
// later stage falls behind, the channels fill and the earlier stages block.
//
// # Incremental Indexing
//
// Before dispatching, the natural keys already stored for the repository are
// loaded into a KeySet and matching packages are skipped. The set is owned by
// the run and grows as packages commit. Options.Force dispatches everything
// again; committing an existing natural key is still a no-op.
//
// # Error Handling
//
// Failures are scoped:
//   - Metadata unavailable: the repository is recorded in its RepoReport and
//     the next repository runs
//   - Fetch or archive errors: the package is recorded in RepoReport.Failed
//   - ELF parse errors: the file is skipped and counted in FilesFailed
//   - Store errors: the run stops and IndexRepos returns the partial report
//     with the error
//
// # Concurrent Runs
//
// An Indexer runs one IndexRepos call at a time. A second concurrent call
// returns ErrRunInProgress immediately.
package indexer
