package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Timer accumulates an item count and the wall time spent producing it
type Timer struct {
	count atomic.Int64
	nanos atomic.Int64
}

// Observe adds n items that took d
func (t *Timer) Observe(n int, d time.Duration) {
	t.count.Add(int64(n))
	t.nanos.Add(int64(d))
}

// ObserveSince adds n items timed from start
func (t *Timer) ObserveSince(n int, start time.Time) {
	t.Observe(n, time.Since(start))
}

// TimerSnapshot is a point-in-time copy of a Timer
type TimerSnapshot struct {
	Count    int64
	Duration time.Duration
}

func (t *Timer) snapshot() TimerSnapshot {
	return TimerSnapshot{Count: t.count.Load(), Duration: time.Duration(t.nanos.Load())}
}

// Sub returns the delta between two snapshots
func (s TimerSnapshot) Sub(prev TimerSnapshot) TimerSnapshot {
	return TimerSnapshot{Count: s.Count - prev.Count, Duration: s.Duration - prev.Duration}
}

// Metrics collects pipeline counters. It is shared by reference; every
// component that records into it receives it explicitly.
type Metrics struct {
	StringsQuery   Timer
	StringsInsert  Timer
	PackagesInsert Timer
	FilesInsert    Timer
	SymbolsInsert  Timer
	ElfParse       Timer

	BytesFetched   atomic.Int64
	FetchRetries   atomic.Int64
	CacheHits      atomic.Int64
	PackagesQueued atomic.Int64
}

// New creates an empty Metrics
func New() *Metrics {
	return &Metrics{}
}

// Snapshot is a consistent-enough copy of all counters for reporting
type Snapshot struct {
	StringsQuery   TimerSnapshot
	StringsInsert  TimerSnapshot
	PackagesInsert TimerSnapshot
	FilesInsert    TimerSnapshot
	SymbolsInsert  TimerSnapshot
	ElfParse       TimerSnapshot

	BytesFetched   int64
	FetchRetries   int64
	CacheHits      int64
	PackagesQueued int64
}

// Snapshot copies the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		StringsQuery:   m.StringsQuery.snapshot(),
		StringsInsert:  m.StringsInsert.snapshot(),
		PackagesInsert: m.PackagesInsert.snapshot(),
		FilesInsert:    m.FilesInsert.snapshot(),
		SymbolsInsert:  m.SymbolsInsert.snapshot(),
		ElfParse:       m.ElfParse.snapshot(),
		BytesFetched:   m.BytesFetched.Load(),
		FetchRetries:   m.FetchRetries.Load(),
		CacheHits:      m.CacheHits.Load(),
		PackagesQueued: m.PackagesQueued.Load(),
	}
}

// Log writes the current values and the deltas since prev at info level
func (s Snapshot) Log(logger zerolog.Logger, prev Snapshot) {
	timer := func(e *zerolog.Event, name string, cur, last TimerSnapshot) *zerolog.Event {
		d := cur.Sub(last)
		return e.Dict(name, zerolog.Dict().
			Int64("count", cur.Count).
			Dur("time", cur.Duration).
			Int64("delta_count", d.Count).
			Dur("delta_time", d.Duration))
	}

	e := logger.Info()
	e = timer(e, "strings_query", s.StringsQuery, prev.StringsQuery)
	e = timer(e, "strings_insert", s.StringsInsert, prev.StringsInsert)
	e = timer(e, "packages_insert", s.PackagesInsert, prev.PackagesInsert)
	e = timer(e, "files_insert", s.FilesInsert, prev.FilesInsert)
	e = timer(e, "symbols_insert", s.SymbolsInsert, prev.SymbolsInsert)
	e = timer(e, "elf_parse", s.ElfParse, prev.ElfParse)
	e.Str("fetched", humanize.Bytes(uint64(max(s.BytesFetched, 0)))).
		Int64("fetch_retries", s.FetchRetries).
		Int64("cache_hits", s.CacheHits).
		Int64("packages_queued", s.PackagesQueued).
		Msg("metrics")
}

// Monitor logs a snapshot every interval until ctx is done
func (m *Metrics) Monitor(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := m.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := m.Snapshot()
			current.Log(logger, last)
			last = current
		}
	}
}
