package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/agentflow/agentflow/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand(version, commit string) *cli.Command {
	return &cli.Command{
		Name:    "agentflow",
		Usage:   "Capture, browse, and analyze AI coding-agent sessions",
		Version: version + " (" + commit + ")",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to JSONC config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewMigrateCommand(),
			NewMCPServeCommand(version),
			NewInsightCommand(),
			NewVersionCommand(version, commit),
		},
	}
}
