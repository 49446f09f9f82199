package indexer

import (
	"time"

	"github.com/dshills/symindex/pkg/types"
)

// PackageFailure is a package that was skipped because it could not be
// fetched or unpacked
type PackageFailure struct {
	Package types.NaturalKey
	Err     error
}

// RepoReport summarizes the indexing of one repository
type RepoReport struct {
	URI string
	// Err is set when the repository metadata could not be resolved; nothing
	// else in the report is meaningful then
	Err error

	Listed     int   // packages in the metadata after filtering
	Skipped    int   // already indexed before this run
	Queued     int   // dispatched to the fetch workers
	QueuedSize int64 // download size of the queued packages

	Committed []types.NaturalKey // packages written by this run
	Existing  int                // commits that found the package already present
	Failed    []PackageFailure

	Files       int // ELF files stored
	FilesFailed int // ELF files skipped on parse errors
	Symbols     int
	Duration    time.Duration
}

// RunReport summarizes one IndexRepos call
type RunReport struct {
	RunID     string
	Repos     []*RepoReport
	StartTime time.Time
	EndTime   time.Time
}

// Committed returns the number of packages committed across repositories
func (r *RunReport) Committed() int {
	n := 0
	for _, repo := range r.Repos {
		n += len(repo.Committed)
	}
	return n
}

// Failed returns the number of packages that failed across repositories
func (r *RunReport) Failed() int {
	n := 0
	for _, repo := range r.Repos {
		n += len(repo.Failed)
	}
	return n
}

// Duration returns the wall time of the run
func (r *RunReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
