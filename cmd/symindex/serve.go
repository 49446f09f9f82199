package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/symindex/internal/logging"
	"github.com/dshills/symindex/internal/mcp"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the index over the Model Context Protocol on stdio",
	Long: `Serve the index to MCP clients over stdin and stdout.

The server offers the query_symbol, index_repository and get_status tools.
Logs are written to stderr.

Example MCP client configuration:
  {
    "mcpServers": {
      "symindex": {"command": "/usr/local/bin/symindex", "args": ["serve"]}
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		logger := logging.Component(a.logger, "mcp")
		srv, err := mcp.NewServer(a.store, a.newIndexer(), a.cfg.IndexOptions(), logger)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		logger.Info().Str("version", mcp.ServerVersion).Str("db", a.cfg.Database.Path).Msg("MCP server ready, listening on stdio")
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ctx) }()

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		case err := <-errCh:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
