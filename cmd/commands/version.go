package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewVersionCommand returns the version subcommand.
func NewVersionCommand(version, commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the agentflow version",
		Action: func(_ context.Context, _ *cli.Command) error {
			fmt.Printf("agentflow %s (%s)\n", version, commit)
			return nil
		},
	}
}
