// Package cronrunner implements C9: user-defined cron jobs that fire a
// synthetic session through the same Store/Bus pipeline as a real agent
// source. Grounded on the teacher's internal/scheduler.Scheduler
// (runtimeEntry/cooldown/triggerEntry poll-and-dispatch shape, see
// cronLoop/checkCron/triggerEntry) and internal/tasks/runner.go's
// tool-calling round, carried here through internal/analyzer.Runner instead
// of the teacher's eino ADK agent since a cron job has no conversational
// turn-taking, just one prompt and a bounded tool loop.
package cronrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/analyzer"
	"github.com/agentflow/agentflow/internal/bus"
	"github.com/agentflow/agentflow/internal/model"
	"github.com/agentflow/agentflow/internal/models"
)

// Store is the subset of *store.Store the cron runner needs.
type Store interface {
	analyzer.QueryStore

	ListCronJobs(userID string) ([]model.CronJob, error)
	GetCronJob(id string) (model.CronJob, error)
	RecordCronRun(id, sessionID string, status model.RunStatus, runAt, nextRunAt *time.Time) error
	Append(e model.Event) (model.Event, error)
	SetSessionUser(id, userID string) error
}

// Bus is the subset of *bus.Bus the cron runner needs.
type Bus interface {
	Publish(topic string, data any)
}

// Analyzer runs the bounded tool-calling loop behind a cron job's prompt.
// *analyzer.Runner satisfies this.
type Analyzer interface {
	Run(ctx context.Context, messages []*schema.Message, tools []tool.InvokableTool, onToolCall analyzer.ToolCallback) (analyzer.Result, error)
}

// Notifier delivers the "notifySlack" side-effect a job can request after a
// run completes. A nil Notifier (or a job with NotifySlack false) means the
// run bookkeeping is the only observable outcome, same as an insight with
// no question channel available.
type Notifier interface {
	Notify(ctx context.Context, job model.CronJob, sessionID string, status model.RunStatus) error
}

// Config tunes the runner; mirrors config.CronConfig plus a poll cadence.
type Config struct {
	PollInterval      time.Duration
	MaxToolIterations int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 15
	}
	return c
}

// Runner is C9.
type Runner struct {
	store      Store
	bus        Bus
	analyzer   Analyzer
	notifier   Notifier
	schemaText string
	cfg        Config

	mu        sync.Mutex
	inFlight  map[string]bool // job id -> run in progress, the "protect" overlap guard
	exprCache map[string]*cronExpr

	done chan struct{}
}

// New constructs a Runner.
func New(store Store, b Bus, an Analyzer, notifier Notifier, schemaText string, cfg Config) *Runner {
	return &Runner{
		store:      store,
		bus:        b,
		analyzer:   an,
		notifier:   notifier,
		schemaText: schemaText,
		cfg:        cfg.withDefaults(),
		inFlight:   make(map[string]bool),
		exprCache:  make(map[string]*cronExpr),
		done:       make(chan struct{}),
	}
}

// Start begins the minute-resolution poll loop, mirroring the teacher's
// cronLoop (time.NewTicker(time.Minute)).
func (r *Runner) Start() {
	go r.pollLoop()
}

// Stop halts the poll loop.
func (r *Runner) Stop() {
	close(r.done)
}

func (r *Runner) pollLoop() {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.checkJobs(context.Background(), now)
		}
	}
}

func (r *Runner) checkJobs(ctx context.Context, now time.Time) {
	jobs, err := r.store.ListCronJobs("")
	if err != nil {
		slog.Error("cronrunner: list jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		expr, err := r.exprFor(job)
		if err != nil {
			slog.Warn("cronrunner: invalid cron expression", "jobId", job.ID, "error", err)
			continue
		}
		loc, err := time.LoadLocation(job.Timezone)
		if err != nil {
			loc = time.UTC
		}
		if !expr.matches(now.In(loc)) {
			continue
		}
		go r.run(ctx, job)
	}
}

func (r *Runner) exprFor(job model.CronJob) (*cronExpr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.exprCache[job.ID]; ok {
		return e, nil
	}
	e, err := parseCron(job.CronExpression)
	if err != nil {
		return nil, err
	}
	r.exprCache[job.ID] = e
	return e, nil
}

// Trigger runs a job immediately, bypassing its schedule, per §4.9's manual
// trigger(id) bypass. It still respects the overlap guard.
func (r *Runner) Trigger(ctx context.Context, jobID string) error {
	job, err := r.store.GetCronJob(jobID)
	if err != nil {
		return err
	}
	if !r.beginRun(job.ID) {
		return fmt.Errorf("cronrunner: job %s already running", job.ID)
	}
	defer r.endRun(job.ID)
	r.execute(ctx, job)
	return nil
}

// run is the scheduled-trigger path: best-effort, errors are logged not
// returned, and overlapping fires of the same job are silently skipped
// (§4.9's protect discipline).
func (r *Runner) run(ctx context.Context, job model.CronJob) {
	if !r.beginRun(job.ID) {
		slog.Debug("cronrunner: run skipped, already in flight", "jobId", job.ID)
		return
	}
	defer r.endRun(job.ID)
	r.execute(ctx, job)
}

func (r *Runner) beginRun(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[jobID] {
		return false
	}
	r.inFlight[jobID] = true
	return true
}

func (r *Runner) endRun(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, jobID)
}

// execute carries out the §4.9 synthetic session: session.start →
// message.user → bounded tool-calling loop (tool.start/tool.end per call) →
// message.assistant or error → session.end, then records run bookkeeping.
func (r *Runner) execute(ctx context.Context, job model.CronJob) {
	sessionID := uuid.New().String()
	runAt := time.Now()

	r.emit(model.Event{
		SessionID: sessionID,
		Timestamp: runAt.UnixMilli(),
		Source:    model.SourceCron,
		Category:  model.CategorySession,
		Type:      "session.start",
		Meta: map[string]any{
			"title": job.Name,
			"cronJob": map[string]any{
				"id":       job.ID,
				"name":     job.Name,
				"schedule": job.CronExpression,
			},
		},
	})

	if job.UserID != "" {
		if err := r.store.SetSessionUser(sessionID, job.UserID); err != nil {
			slog.Error("cronrunner: set session user", "error", err, "sessionId", sessionID)
		}
	}

	r.emit(model.Event{
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Source:    model.SourceCron,
		Category:  model.CategoryMessage,
		Type:      "message.user",
		Role:      model.RoleUser,
		Text:      job.Prompt,
	})

	messages := []*schema.Message{
		{Role: schema.User, Content: job.Prompt},
	}

	result, runErr := r.analyzer.Run(ctx, messages, r.tools(), r.toolCallback(sessionID))

	status := model.RunSucceeded
	if runErr != nil {
		status = model.RunFailed
		r.emit(model.Event{
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Source:    model.SourceCron,
			Category:  model.CategoryError,
			Type:      "error",
			Error:     runErr.Error(),
			Meta:      map[string]any{"reason": string(models.Classify(runErr))},
		})
	} else {
		r.emit(model.Event{
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Source:    model.SourceCron,
			Category:  model.CategoryMessage,
			Type:      "message.assistant",
			Role:      model.RoleAssistant,
			Text:      result.FinalText,
		})
	}

	r.emit(model.Event{
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Source:    model.SourceCron,
		Category:  model.CategorySession,
		Type:      "session.end",
	})

	var nextRunAt *time.Time
	if expr, err := r.exprFor(job); err == nil {
		loc, err := time.LoadLocation(job.Timezone)
		if err != nil {
			loc = time.UTC
		}
		next := expr.next(time.Now().In(loc))
		nextRunAt = &next
	}

	if err := r.store.RecordCronRun(job.ID, sessionID, status, &runAt, nextRunAt); err != nil {
		slog.Error("cronrunner: record run", "error", err, "jobId", job.ID)
	}

	if job.NotifySlack && r.notifier != nil {
		if err := r.notifier.Notify(ctx, job, sessionID, status); err != nil {
			slog.Error("cronrunner: notify", "error", err, "jobId", job.ID)
		}
	}
}

func (r *Runner) emit(e model.Event) {
	saved, err := r.store.Append(e)
	if err != nil {
		slog.Error("cronrunner: append event", "error", err, "sessionId", e.SessionID, "type", e.Type)
		return
	}
	r.bus.Publish(bus.SessionTopic(saved.SessionID), saved)
	r.bus.Publish(bus.GlobalTopic, map[string]any{"type": "session:update", "sessionId": saved.SessionID})
}

func (r *Runner) toolCallback(sessionID string) analyzer.ToolCallback {
	return func(tc analyzer.ToolCall) {
		now := time.Now().UnixMilli()
		r.emit(model.Event{
			SessionID: sessionID,
			Timestamp: now,
			Source:    model.SourceCron,
			Category:  model.CategoryTool,
			Type:      "tool.start",
			ToolName:  tc.Name,
			ToolInput: tc.Input,
		})
		end := model.Event{
			SessionID: sessionID,
			Timestamp: now,
			Source:    model.SourceCron,
			Category:  model.CategoryTool,
			Type:      "tool.end",
			ToolName:  tc.Name,
		}
		if tc.Err != nil {
			end.Error = tc.Err.Error()
		} else {
			end.ToolOutput = tc.Output
		}
		r.emit(end)
	}
}

func (r *Runner) tools() []tool.InvokableTool {
	return []tool.InvokableTool{
		analyzer.NewSQLTool(r.store),
		analyzer.NewSchemaTool(r.schemaText),
	}
}
