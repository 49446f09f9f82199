package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/symindex/internal/storage"
)

// reposCmd represents the repos command
var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List indexed repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repos, err := a.store.ListRepos(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "REPOSITORY\tPACKAGES\tPRIMARY")
		for _, r := range repos {
			keys, err := a.store.IndexedKeys(cmd.Context(), r.ID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.URI, humanize.Comma(int64(len(keys))), r.PrimaryHref)
		}
		return w.Flush()
	},
}

// removeCmd represents the remove command
var removeCmd = &cobra.Command{
	Use:   "remove URI...",
	Short: "Remove repositories and their packages from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		for _, uri := range args {
			uri = strings.TrimRight(uri, "/")
			err := a.store.RemoveRepo(cmd.Context(), uri)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("repository %s is not indexed", uri)
			}
			if err != nil {
				return err
			}
			a.logger.Info().Str("repo", uri).Msg("repository removed")
		}
		return nil
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		size := "unknown"
		if fi, err := os.Stat(a.cfg.Database.Path); err == nil {
			size = humanize.IBytes(uint64(fi.Size()))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Database:\t%s (%s)\n", a.cfg.Database.Path, size)
		_, _ = fmt.Fprintf(w, "Schema version:\t%s\n", stats.SchemaVersion)
		_, _ = fmt.Fprintf(w, "Repositories:\t%s\n", humanize.Comma(int64(stats.Repos)))
		_, _ = fmt.Fprintf(w, "Packages:\t%s\n", humanize.Comma(int64(stats.Packages)))
		_, _ = fmt.Fprintf(w, "Files:\t%s\n", humanize.Comma(int64(stats.Files)))
		_, _ = fmt.Fprintf(w, "Symbol names:\t%s\n", humanize.Comma(int64(stats.Strings)))
		_, _ = fmt.Fprintf(w, "Symbols:\t%s\n", humanize.Comma(int64(stats.Symbols)))
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(reposCmd, removeCmd, statsCmd)
}
