package indexer

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/symindex/internal/cpio"
	"github.com/dshills/symindex/internal/elfsym"
	"github.com/dshills/symindex/internal/fetcher"
	"github.com/dshills/symindex/internal/metrics"
	"github.com/dshills/symindex/internal/repomd"
	"github.com/dshills/symindex/internal/rpm"
	"github.com/dshills/symindex/internal/storage"
	"github.com/dshills/symindex/pkg/types"
)

// ErrRunInProgress is returned when another run holds the indexer
var ErrRunInProgress = errors.New("indexing already in progress")

// Indexer coordinates the indexing pipeline:
// resolve -> fetch and unpack -> extract -> intern and commit
type Indexer struct {
	storage   storage.Storage
	fetcher   *fetcher.Fetcher
	resolver  *repomd.Resolver
	extractor *elfsym.Extractor
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	lock IndexLock
}

// Config contains the long-lived settings of an indexer
type Config struct {
	CacheDir    string // decompressed repository metadata
	TempDir     string // spool files for large ELF entries; "" uses the OS default
	MaxInMemory int64  // in-memory allowance per package; entries beyond it are spooled to TempDir
}

// Options controls one IndexRepos call
type Options struct {
	Force           bool          // re-process packages that are already indexed
	Filter          repomd.Filter // narrows the package list of every repository
	ExtractWorkers  int           // default runtime.NumCPU()
	QueueDepth      int           // capacity of each stage channel; default 2*ExtractWorkers
	MetricsInterval time.Duration // 0 disables the periodic metrics log
}

// New creates an Indexer. Fetch concurrency is the fetcher's worker limit.
func New(store storage.Storage, f *fetcher.Fetcher, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Indexer {
	if m == nil {
		m = metrics.New()
	}
	opts := []elfsym.Option{elfsym.WithMetrics(m), elfsym.WithTempDir(cfg.TempDir)}
	if cfg.MaxInMemory > 0 {
		opts = append(opts, elfsym.WithMaxInMemory(cfg.MaxInMemory))
	}
	return &Indexer{
		storage:   store,
		fetcher:   f,
		resolver:  repomd.NewResolver(f, cfg.CacheDir, logger),
		extractor: elfsym.New(opts...),
		metrics:   m,
		logger:    logger,
	}
}

// Running reports whether a run is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// Metrics returns the counters the indexer records into
func (idx *Indexer) Metrics() *metrics.Metrics {
	return idx.metrics
}

// IndexRepos indexes each repository in turn. A repository whose metadata
// cannot be resolved is recorded in the report and its siblings continue.
// A store failure stops the run: the partial report, listing every package
// committed so far, is returned together with the error.
func (idx *Indexer) IndexRepos(ctx context.Context, uris []string, opts Options) (*RunReport, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrRunInProgress
	}
	defer idx.lock.Release()

	opts = withDefaults(opts)
	report := &RunReport{RunID: uuid.NewString(), StartTime: time.Now()}
	logger := idx.logger.With().Str("run_id", report.RunID).Logger()

	if opts.MetricsInterval > 0 {
		monCtx, stop := context.WithCancel(ctx)
		defer stop()
		go idx.metrics.Monitor(monCtx, opts.MetricsInterval, logger)
	}
	before := idx.metrics.Snapshot()

	var runErr error
	for _, uri := range uris {
		rr := &RepoReport{URI: strings.TrimRight(uri, "/")}
		report.Repos = append(report.Repos, rr)

		start := time.Now()
		err := idx.indexRepo(ctx, rr, opts, logger.With().Str("repo", rr.URI).Logger())
		rr.Duration = time.Since(start)
		if err != nil {
			runErr = err
			break
		}
	}

	report.EndTime = time.Now()
	idx.metrics.Snapshot().Log(logger, before)
	logger.Info().
		Int("committed", report.Committed()).
		Int("failed", report.Failed()).
		Dur("duration", report.Duration()).
		Msg("indexing run finished")
	return report, runErr
}

func withDefaults(opts Options) Options {
	if opts.ExtractWorkers <= 0 {
		opts.ExtractWorkers = runtime.NumCPU()
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 2 * opts.ExtractWorkers
	}
	return opts
}

// fetched is a package whose ELF entries have been read off the network.
// The in-memory sources of one package never exceed its budget.
type fetched struct {
	desc    types.PackageDescriptor
	budget  *elfsym.Budget
	sources []*elfsym.Source
}

func (f *fetched) release() {
	for _, s := range f.sources {
		_ = s.Close()
	}
	f.sources = nil
}

// extracted is a package ready to commit
type extracted struct {
	desc  types.PackageDescriptor
	files []types.ExtractedFile
}

// indexRepo runs the pipeline for one repository. Only store failures and
// cancellation are returned; everything else is recorded in rr.
func (idx *Indexer) indexRepo(ctx context.Context, rr *RepoReport, opts Options, logger zerolog.Logger) error {
	repo, err := idx.resolver.Resolve(ctx, rr.URI, opts.Filter)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rr.Err = err
		logger.Error().Err(err).Msg("repository metadata unavailable")
		return nil
	}
	rr.Listed = len(repo.Packages)

	stored, err := idx.storage.RegisterRepo(ctx, rr.URI, repo.PrimaryHref)
	if err != nil {
		return asStoreError("register repo", err)
	}
	indexed, err := idx.storage.IndexedKeys(ctx, stored.ID)
	if err != nil {
		return asStoreError("load indexed keys", err)
	}
	keys := NewKeySet(indexed)

	queue := make([]types.PackageDescriptor, 0, len(repo.Packages))
	for _, desc := range repo.Packages {
		if !opts.Force && keys.Contains(desc.NaturalKey) {
			rr.Skipped++
			continue
		}
		queue = append(queue, desc)
		rr.QueuedSize += desc.Size
	}
	rr.Queued = len(queue)

	logger.Info().
		Int("listed", rr.Listed).
		Int("skipped", rr.Skipped).
		Int("queued", rr.Queued).
		Str("total_size", humanize.Bytes(uint64(max(repo.TotalSize, 0)))).
		Str("queued_size", humanize.Bytes(uint64(max(rr.QueuedSize, 0)))).
		Bool("cached_metadata", repo.Cached).
		Msg("indexing repository")

	if len(queue) == 0 {
		return nil
	}

	p := &pipeline{
		idx:    idx,
		repoID: stored.ID,
		report: rr,
		keys:   keys,
		logger: logger,
	}
	return p.run(ctx, queue, opts)
}

// pipeline holds the per-repository state shared by the stages
type pipeline struct {
	idx    *Indexer
	repoID int64
	keys   *KeySet
	logger zerolog.Logger

	mu     sync.Mutex // guards report
	report *RepoReport
}

func (p *pipeline) run(ctx context.Context, queue []types.PackageDescriptor, opts Options) error {
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan types.PackageDescriptor, opts.QueueDepth)
	downloaded := make(chan *fetched, opts.QueueDepth)
	ready := make(chan *extracted, opts.QueueDepth)

	g.Go(func() error {
		defer close(jobs)
		for _, desc := range queue {
			select {
			case jobs <- desc:
				p.idx.metrics.PackagesQueued.Add(1)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var fetchWG sync.WaitGroup
	for i := 0; i < max(p.idx.fetcher.Config().Workers, 1); i++ {
		fetchWG.Add(1)
		g.Go(func() error {
			defer fetchWG.Done()
			return p.fetchStage(gctx, jobs, downloaded)
		})
	}
	go func() {
		fetchWG.Wait()
		close(downloaded)
	}()

	var extractWG sync.WaitGroup
	for i := 0; i < opts.ExtractWorkers; i++ {
		extractWG.Add(1)
		g.Go(func() error {
			defer extractWG.Done()
			return p.extractStage(gctx, downloaded, ready)
		})
	}
	go func() {
		extractWG.Wait()
		close(ready)
	}()

	g.Go(func() error {
		return p.commitStage(gctx, ready)
	})

	err := g.Wait()

	// Stages that stopped early can leave spooled entries behind
	for f := range downloaded {
		f.release()
	}
	for range ready {
	}
	return err
}

func (p *pipeline) fetchStage(ctx context.Context, jobs <-chan types.PackageDescriptor, out chan<- *fetched) error {
	for desc := range jobs {
		f, err := p.download(ctx, desc)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.fail(desc, err)
			continue
		}
		select {
		case out <- f:
		case <-ctx.Done():
			f.release()
			return ctx.Err()
		}
	}
	return nil
}

// download fetches one package and reads its ELF entries into sources. The
// consumer starts over from an empty list and a full budget when the
// fetcher retries.
func (p *pipeline) download(ctx context.Context, desc types.PackageDescriptor) (*fetched, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	f := &fetched{desc: desc}
	url := p.report.URI + "/" + strings.TrimLeft(desc.Location, "/")
	err := p.idx.fetcher.Fetch(ctx, url, desc.Checksum, func(body io.Reader) error {
		f.release()
		f.budget = p.idx.extractor.NewBudget()
		return p.unpack(ctx, body, f)
	})
	if err != nil {
		f.release()
		return nil, err
	}
	return f, nil
}

func (p *pipeline) unpack(ctx context.Context, body io.Reader, f *fetched) error {
	pkg, err := rpm.Open(body)
	if err != nil {
		return err
	}
	payload, err := pkg.Payload()
	if err != nil {
		return err
	}
	defer func() { _ = payload.Close() }()

	archive := cpio.NewReader(payload)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := archive.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		src, err := p.idx.extractor.Load(hdr.Name, archive, hdr.Size, f.budget)
		if err != nil {
			return err
		}
		if src != nil {
			f.sources = append(f.sources, src)
		}
	}
}

func (p *pipeline) extractStage(ctx context.Context, in <-chan *fetched, out chan<- *extracted) error {
	for f := range in {
		e := p.extract(f)
		select {
		case out <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// extract parses every source of f and releases them. A file that fails to
// parse is skipped; its siblings are kept.
func (p *pipeline) extract(f *fetched) *extracted {
	defer f.release()

	e := &extracted{desc: f.desc, files: make([]types.ExtractedFile, 0, len(f.sources))}
	failed := 0
	for _, src := range f.sources {
		syms, err := src.Symbols()
		if err != nil {
			failed++
			p.logger.Debug().Err(err).Str("package", f.desc.String()).Str("file", src.Path).Msg("skipping unparseable ELF file")
			continue
		}
		e.files = append(e.files, types.ExtractedFile{Path: src.Path, Symbols: syms})
	}

	if failed > 0 {
		p.mu.Lock()
		p.report.FilesFailed += failed
		p.mu.Unlock()
	}
	return e
}

// commitStage is the single writer of the pipeline
func (p *pipeline) commitStage(ctx context.Context, in <-chan *extracted) error {
	for e := range in {
		if err := p.commit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (p *pipeline) commit(ctx context.Context, e *extracted) error {
	names := make([]string, 0, types.SymbolCount(e.files))
	for _, f := range e.files {
		for _, s := range f.Symbols {
			names = append(names, s.Name)
		}
	}

	ids, err := p.idx.storage.InternBatch(ctx, names)
	if err != nil {
		return p.storeFailed(ctx, e, asStoreError("intern names", err))
	}

	files := make([]storage.FileSymbols, len(e.files))
	for i, f := range e.files {
		rows := make([]storage.SymbolRow, len(f.Symbols))
		for j, s := range f.Symbols {
			rows[j] = storage.SymbolRow{NameID: ids[s.Name], Info: s.Info, Other: s.Other}
		}
		files[i] = storage.FileSymbols{Path: f.Path, Symbols: rows}
	}

	res, err := p.idx.storage.CommitPackage(ctx, p.repoID, e.desc, files)
	if err != nil {
		return p.storeFailed(ctx, e, asStoreError("commit package", err))
	}
	p.keys.Add(e.desc.NaturalKey)

	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Existing {
		p.report.Existing++
		return nil
	}
	p.report.Committed = append(p.report.Committed, e.desc.NaturalKey)
	p.report.Files += res.Files
	p.report.Symbols += res.Symbols
	p.logger.Debug().Str("package", e.desc.String()).Int("files", res.Files).Int("symbols", res.Symbols).Msg("package committed")
	return nil
}

func (p *pipeline) storeFailed(ctx context.Context, e *extracted, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.logger.Error().Err(err).Str("package", e.desc.String()).Msg("store failure, stopping run")
	return err
}

// fail records a package-level failure
func (p *pipeline) fail(desc types.PackageDescriptor, err error) {
	p.logger.Warn().Err(err).Str("package", desc.String()).Msg("skipping package")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report.Failed = append(p.report.Failed, PackageFailure{Package: desc.NaturalKey, Err: err})
}

func asStoreError(op string, err error) error {
	if errors.Is(err, types.ErrStore) {
		return err
	}
	return &types.StoreError{Op: op, Err: err}
}
