package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/agentflow/agentflow/internal/analyzer"
	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/bus"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/cronrunner"
	"github.com/agentflow/agentflow/internal/gateway"
	"github.com/agentflow/agentflow/internal/insight"
	"github.com/agentflow/agentflow/internal/models"
	"github.com/agentflow/agentflow/internal/store"
)

// NewServeCommand returns the serve subcommand: the gateway (C4/C5/C6/C7)
// plus the background insight scheduler (C8) and cron runner (C9), wired
// the way the teacher's runGateway wires its own server + scheduler +
// actor pool — load config, open stateful collaborators, start background
// loops, run the HTTP server until a signal, shut down with a bounded
// grace period.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the agentflow ingest/query/realtime gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
				Value: "0.0.0.0",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on (overrides config/PORT)",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}

	logLevel := slog.LevelInfo
	if cmd.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	eventBus := bus.New(cfg.Events.BufferSize)

	sessionVerifier := auth.NewInMemoryVerifier("agentflow_session")
	authenticator := auth.New(s, sessionVerifier)

	server := gateway.NewServer(s, eventBus, authenticator, cmd.String("host"), cfg.Port)

	registry := models.NewRegistry(cfg.Models)
	// Insight analysis (§4.8) is a deep batch job over a user's whole
	// activity window and prefers a "large"-tier provider if the deployment
	// tagged one; the cron tool loop (§4.9) runs far more often on a single
	// short prompt and prefers a "fast"-tier provider. Both fall back to the
	// registry default when no provider carries the tag.
	insightRunner, insightOK := newAnalyzerRunner(ctx, registry, models.Selector{
		Constraints: []models.Constraint{{Op: models.SelectByTag, Value: "large"}},
	}, 0)
	cronRunnerModel, cronOK := newAnalyzerRunner(ctx, registry, models.Selector{
		Constraints: []models.Constraint{{Op: models.SelectByTag, Value: "fast"}},
	}, cfg.Cron.MaxToolIterations)
	if insightOK {
		insightSched := insight.New(s, eventBus, insightRunner, nil, store.Schema, insight.Config{
			Cadence:                cfg.Insight.Cadence.Duration(),
			EventThreshold:         cfg.Insight.EventThreshold,
			MaxRounds:              cfg.Insight.MaxRounds,
			DisableQuestionChannel: cfg.Insight.DisableQuestionChannel,
		})
		insightSched.Start()
		defer insightSched.Stop()
	} else {
		slog.Warn("no model available for insight analysis, scheduler disabled")
	}
	if cronOK {
		cronRunner := cronrunner.New(s, eventBus, cronRunnerModel, nil, store.Schema, cronrunner.Config{
			MaxToolIterations: cfg.Cron.MaxToolIterations,
		})
		cronRunner.Start()
		defer cronRunner.Stop()
	} else {
		slog.Warn("no model available for cron jobs, runner disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	slog.Info("agentflow listening", "host", cmd.String("host"), "port", cfg.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newAnalyzerRunner builds an Analyzer from whichever provider sel resolves
// to in registry (see Registry.Select), falling back to the registry
// default. A registry with no usable provider is a valid deployment (§4.8/
// §4.9 are both optional background features); callers skip starting the
// corresponding scheduler entirely in that case rather than running it
// against a nil model. maxIterations bounds the tool loop (0 selects
// analyzer.New's default).
func newAnalyzerRunner(ctx context.Context, registry *models.Registry, sel models.Selector, maxIterations int) (*analyzer.Runner, bool) {
	chatModel, err := registry.Select(ctx, sel)
	if err != nil {
		return nil, false
	}
	return analyzer.New(chatModel, maxIterations), true
}
