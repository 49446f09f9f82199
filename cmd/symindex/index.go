package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/symindex/internal/config"
)

var indexFlags struct {
	force           bool
	arches          []string
	requires        []string
	fetchWorkers    int
	extractWorkers  int
	bandwidth       config.ByteSize
	metricsInterval time.Duration
}

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index URI...",
	Short: "Index the packages of one or more repositories",
	Long: `Index the packages of one or more yum/dnf repositories.

Each URI is a repository base, the directory that contains repodata/.
Packages already present in the index are skipped unless --force is given.
Repositories are indexed one after another; a repository whose metadata
cannot be read is reported and the next one is indexed.

Example:
  symindex index https://mirror.example/os
  symindex index --arch x86_64 --arch noarch --requires 'libssl.so*' https://mirror.example/os`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		flags := cmd.Flags()
		if flags.Changed("fetch-workers") {
			a.cfg.Fetch.Workers = indexFlags.fetchWorkers
		}
		if flags.Changed("bandwidth") {
			a.cfg.Fetch.Bandwidth = indexFlags.bandwidth
		}
		opts := a.cfg.IndexOptions()
		opts.Force = indexFlags.force
		if flags.Changed("arch") {
			opts.Filter.Arches = indexFlags.arches
		}
		if flags.Changed("requires") {
			opts.Filter.Requires = indexFlags.requires
		}
		if flags.Changed("extract-workers") {
			opts.ExtractWorkers = indexFlags.extractWorkers
		}
		if flags.Changed("metrics-interval") {
			opts.MetricsInterval = indexFlags.metricsInterval
		}

		ctx, stop := signalContext()
		defer stop()

		report, err := a.newIndexer().IndexRepos(ctx, args, opts)
		if report != nil {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "REPOSITORY\tLISTED\tSKIPPED\tCOMMITTED\tFAILED\tFILES\tSYMBOLS\tDOWNLOAD\tDURATION")
			unavailable := 0
			for _, rr := range report.Repos {
				if rr.Err != nil {
					unavailable++
					_, _ = fmt.Fprintf(w, "%s\tunavailable: %v\n", rr.URI, rr.Err)
					continue
				}
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
					rr.URI, rr.Listed, rr.Skipped, len(rr.Committed), len(rr.Failed),
					rr.Files, rr.Symbols, humanize.IBytes(uint64(rr.QueuedSize)), rr.Duration.Round(time.Millisecond))
			}
			_ = w.Flush()
			if err == nil && unavailable > 0 {
				err = fmt.Errorf("%d of %d repositories unavailable", unavailable, len(report.Repos))
			}
		}
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("indexing interrupted: %w", err)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	f := indexCmd.Flags()
	f.BoolVarP(&indexFlags.force, "force", "f", false, "Re-process packages that are already indexed")
	f.StringSliceVar(&indexFlags.arches, "arch", nil, "Only index packages of these architectures")
	f.StringSliceVar(&indexFlags.requires, "requires", nil, "Only index packages requiring a capability matching one of these wildcards")
	f.IntVar(&indexFlags.fetchWorkers, "fetch-workers", 0, "Concurrent downloads")
	f.IntVar(&indexFlags.extractWorkers, "extract-workers", 0, "Concurrent ELF parsers (default: number of CPUs)")
	f.Var(&indexFlags.bandwidth, "bandwidth", "Download bandwidth limit per second, e.g. 10MiB (0 for unlimited)")
	f.DurationVar(&indexFlags.metricsInterval, "metrics-interval", 0, "Log indexing metrics at this interval (0 disables)")
}
