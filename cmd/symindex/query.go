package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/symindex/internal/searcher"
)

var queryFlags struct {
	repo   string
	arches []string
	limit  int
	json   bool
}

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query NAME...",
	Short: "Find the packages and files that define or reference symbols",
	Long: `Find the packages and files whose ELF symbol tables contain the given names.

Names may use the wildcards * and ?; matching is case-sensitive. One row is
printed per symbol-table entry, so a file that both exports a symbol in its
dynamic table and lists it in its static table appears twice.

Example:
  symindex query SSL_CTX_new
  symindex query --arch x86_64 'EVP_Digest*'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := searcher.NewSearcher(a.store).Lookup(cmd.Context(), searcher.LookupRequest{
			Names:   args,
			RepoURI: strings.TrimRight(queryFlags.repo, "/"),
			Arches:  queryFlags.arches,
			Limit:   queryFlags.limit,
		})
		if err != nil {
			return err
		}

		rows := searcher.Rows(resp.Matches)
		if queryFlags.json {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SYMBOL\tBIND\tTYPE\tPACKAGE\tFILE\tREPOSITORY")
		for _, r := range rows {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Symbol, r.Binding, r.Type, r.Package, r.File, r.Repo)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		suffix := ""
		if resp.Truncated {
			suffix = " (truncated)"
		}
		_, _ = fmt.Fprintf(os.Stderr, "%d rows for %d names in %s%s\n",
			len(rows), len(resp.Names), resp.Duration.Round(time.Microsecond), suffix)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	f := queryCmd.Flags()
	f.StringVar(&queryFlags.repo, "repo", "", "Only report packages of this repository URI")
	f.StringSliceVar(&queryFlags.arches, "arch", nil, "Only report packages of these architectures")
	f.IntVarP(&queryFlags.limit, "limit", "n", 0, "Maximum number of rows (default 1000)")
	f.BoolVar(&queryFlags.json, "json", false, "Print rows as JSON")
}
