package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/store"
)

// NewMigrateCommand returns the migrate subcommand: open the store (which
// applies store.Open's embedded schema) and exit, for deploys that want
// migrations applied before the service starts accepting traffic.
func NewMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the store schema and exit",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			s, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			slog.Info("migrate: schema applied", "db", cfg.DBPath)
			return nil
		},
	}
}
