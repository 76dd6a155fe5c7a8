package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/mcpserver"
	"github.com/agentflow/agentflow/internal/store"
)

// NewMCPServeCommand returns the mcp-serve subcommand, mirroring the
// teacher's mcp-serve: stdout is reserved for the MCP stdio transport, so
// logging goes to stderr.
func NewMCPServeCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose sessions and insights as an MCP server (stdio)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logLevel := slog.LevelWarn
			if cmd.Bool("debug") {
				logLevel = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			s, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			server := mcpserver.New(s, version)
			return server.Run(ctx, &mcpsdk.StdioTransport{})
		},
	}
}
