package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/symindex/internal/rpm"
)

// rpm2cpioCmd represents the rpm2cpio command
var rpm2cpioCmd = &cobra.Command{
	Use:   "rpm2cpio [FILE]",
	Short: "Write the decompressed cpio payload of an RPM to stdout",
	Long: `Write the decompressed cpio payload of an RPM package to stdout.

The package is read from FILE, or from stdin when FILE is omitted or "-".

Example:
  symindex rpm2cpio openssl-libs-3.0.7-27.el9.x86_64.rpm | cpio -idmv`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			in = f
		}

		out := bufio.NewWriter(os.Stdout)
		if _, err := rpm.WritePayload(out, bufio.NewReader(in)); err != nil {
			return fmt.Errorf("rpm2cpio: %w", err)
		}
		return out.Flush()
	},
}

func init() {
	rootCmd.AddCommand(rpm2cpioCmd)
}
