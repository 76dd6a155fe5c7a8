package commands

import (
	"context"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"

	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/store"
)

// NewInsightCommand returns the insight subcommand group, for operators who
// want to read an insight's markdown report on a terminal instead of
// through the HTTP API, rendered with the teacher's own glamour dependency.
func NewInsightCommand() *cli.Command {
	return &cli.Command{
		Name:  "insight",
		Usage: "Inspect stored insights",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Render an insight's report to the terminal",
				ArgsUsage: "<insight-id>",
				Action:    runInsightShow,
			},
		},
	}
}

func runInsightShow(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("insight show: missing <insight-id>")
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	in, err := s.GetInsight(id)
	if err != nil {
		return fmt.Errorf("insight show: %w", err)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("insight show: build renderer: %w", err)
	}

	out, err := renderer.Render(in.Content)
	if err != nil {
		return fmt.Errorf("insight show: render: %w", err)
	}

	fmt.Print(out)
	for _, q := range in.Questions {
		status := "open"
		if q.AnsweredAt != nil {
			status = "answered"
		}
		fmt.Printf("  [%s] %s (%s)\n", q.ID, q.Text, status)
	}
	return nil
}
