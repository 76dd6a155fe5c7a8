// Package insight implements C8: a fixed-cadence, protect-mode scheduler
// that batches each user's new activity through an external analyzer,
// persists the result as an Insight, and bridges any follow-up questions
// through an external question channel and back via the bus's
// thread:ready topic. Grounded on the teacher's internal/scheduler.Scheduler
// (ticker-driven loop + single-flight run guard) and internal/tasks.Runner
// (tool-calling round carried through internal/analyzer), re-targeted at a
// fixed cadence instead of cron/interval/event entries since spec.md §4.8
// describes one recurring batch job, not a user-defined schedule table
// (that shape belongs to internal/cronrunner, C9).
package insight

import (
	"context"
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

// Store is the subset of *store.Store the insight scheduler needs.
type Store interface {
	analyzer.QueryStore

	DistinctUserIDs() ([]string, error)
	CountEventsSince(userID string, ts int64) (int, error)
	CountSessionsSince(userID string, ts int64) (int, error)
	GetAnalysisState(userID string) (model.AnalysisState, error)
	PutAnalysisState(st model.AnalysisState) error
	CreateInsight(in model.Insight) (model.Insight, error)
	UpdateInsight(in model.Insight) error
	GetInsight(id string) (model.Insight, error)
}

// Bus is the subset of *bus.Bus the scheduler needs: it publishes
// insight:new/updated/error notices on the global topic and is the sole
// subscriber of thread:ready.
type Bus interface {
	Publish(topic string, data any)
	Subscribe(topic string) *bus.Subscription
}

// QuestionChannel posts a follow-up question somewhere a human can answer
// it — a Slack thread, a chat reply, whatever the deployment wires up. This
// is the external collaborator spec.md §4.8 step 6 calls "the question
// channel"; a nil channel (or Config.DisableQuestionChannel) models "no
// channel available", which routes new insights to final-no-answers
// instead of preliminary (§4.8 step 5).
type QuestionChannel interface {
	Post(ctx context.Context, insightID, questionID, text string) error
}

// Analyzer runs the bounded tool-calling loop spec.md §6 calls
// "Analyzer.run(prompt, tools[], callback)". *analyzer.Runner satisfies this.
type Analyzer interface {
	Run(ctx context.Context, messages []*schema.Message, tools []tool.InvokableTool, onToolCall analyzer.ToolCallback) (analyzer.Result, error)
}

// Config tunes the scheduler; mirrors config.InsightConfig.
type Config struct {
	Cadence                time.Duration
	EventThreshold         int
	MaxRounds              int
	DisableQuestionChannel bool
}

func (c Config) withDefaults() Config {
	if c.Cadence <= 0 {
		c.Cadence = 5 * time.Hour
	}
	if c.EventThreshold <= 0 {
		c.EventThreshold = 5
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	return c
}

// Scheduler is C8.
type Scheduler struct {
	store      Store
	bus        Bus
	analyzer   Analyzer
	channel    QuestionChannel
	cfg        Config
	schemaText string

	running sync.Mutex // TryLock guards protect-mode: a run is skipped if held
	done    chan struct{}
	ansSub  *bus.Subscription
}

// New constructs a Scheduler. schemaText is handed to the analyzer's
// describe_schema tool verbatim (store.Schema, the store's own migration
// text, so the two never drift).
func New(store Store, b Bus, an Analyzer, channel QuestionChannel, schemaText string, cfg Config) *Scheduler {
	return &Scheduler{
		store:      store,
		bus:        b,
		analyzer:   an,
		channel:    channel,
		cfg:        cfg.withDefaults(),
		schemaText: schemaText,
		done:       make(chan struct{}),
	}
}

// Start subscribes to the answer bridge and begins the cadence loop.
func (s *Scheduler) Start() {
	s.ansSub = s.bus.Subscribe(bus.ThreadReadyTopic)
	go s.answerLoop()
	go s.tickLoop()
}

// Stop halts both loops and releases the bus subscription.
func (s *Scheduler) Stop() {
	close(s.done)
	if s.ansSub != nil {
		s.ansSub.Close()
	}
}

func (s *Scheduler) tickLoop() {
	ticker := time.NewTicker(s.cfg.Cadence)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

func (s *Scheduler) answerLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.ansSub.C:
			if !ok {
				return
			}
			tm, ok := msg.Data.(bus.ThreadReadyMessage)
			if !ok {
				continue
			}
			s.handleAnswer(context.Background(), tm)
		}
	}
}

// RunOnce executes one scheduler pass across every user with stored
// activity, skipping entirely if a previous run is still in flight
// (§4.8's "protect" discipline).
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.running.TryLock() {
		slog.Debug("insight: run skipped, previous run still executing")
		return
	}
	defer s.running.Unlock()

	users, err := s.store.DistinctUserIDs()
	if err != nil {
		slog.Error("insight: enumerate users", "error", err)
		return
	}
	for _, userID := range users {
		s.analyzeUser(ctx, userID)
	}
}

func (s *Scheduler) analyzeUser(ctx context.Context, userID string) {
	state, err := s.store.GetAnalysisState(userID)
	if err != nil {
		slog.Error("insight: get analysis state", "error", err, "userId", userID)
		return
	}

	newEvents, err := s.store.CountEventsSince(userID, state.LastEventTimestamp)
	if err != nil {
		slog.Error("insight: count events", "error", err, "userId", userID)
		return
	}
	if newEvents < s.cfg.EventThreshold {
		return
	}

	sessCount, err := s.store.CountSessionsSince(userID, state.LastEventTimestamp)
	if err != nil {
		slog.Error("insight: count sessions", "error", err, "userId", userID)
		return
	}

	windowStart, windowEnd := state.LastEventTimestamp, time.Now().UnixMilli()

	messages := []*schema.Message{
		{Role: schema.System, Content: analysisSystemPrompt},
		{Role: schema.User, Content: initialAnalysisPrompt(userID, windowStart, windowEnd)},
	}

	result, err := s.analyzer.Run(ctx, messages, s.tools(), s.logToolCall)
	if err != nil {
		slog.Error("insight: analyzer run", "error", err, "userId", userID)
		s.bus.Publish(bus.GlobalTopic, map[string]any{"type": "insight:error", "userId": userID, "error": err.Error(), "reason": string(models.Classify(err))})
		return
	}

	parsed, err := parseAnalysisResult(result.FinalText)
	if err != nil {
		slog.Error("insight: parse analyzer output", "error", err, "userId", userID)
		s.bus.Publish(bus.GlobalTopic, map[string]any{"type": "insight:error", "userId": userID, "error": err.Error(), "reason": "unparseable_output"})
		return
	}

	in := model.Insight{
		UserID:           userID,
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		Content:          renderMarkdown(parsed),
		Categories:       parsed.Categories(),
		FollowUpActions:  parsed.FollowUpActions,
		SessionsAnalyzed: sessCount,
		EventsAnalyzed:   newEvents,
		Usage:            model.TokenUsage{Input: result.Usage.InputTokens, Output: result.Usage.OutputTokens},
		Round:            1,
	}

	channelAvailable := s.channelAvailable()
	hasQuestions := len(parsed.Questions) > 0

	switch {
	case hasQuestions && channelAvailable:
		in.Phase = model.PhasePreliminary
		for _, q := range parsed.Questions {
			in.Questions = append(in.Questions, model.Question{Text: q})
		}
	case hasQuestions:
		in.Phase = model.PhaseFinalNoAnswers
		for _, q := range parsed.Questions {
			in.Questions = append(in.Questions, model.Question{Text: q})
		}
	default:
		in.Round = 0 // no refinement state machine applies
	}

	saved, err := s.store.CreateInsight(in)
	if err != nil {
		slog.Error("insight: create", "error", err, "userId", userID)
		return
	}

	if err := s.store.PutAnalysisState(model.AnalysisState{UserID: userID, LastAnalyzedAt: windowEnd, LastEventTimestamp: windowEnd}); err != nil {
		slog.Error("insight: put analysis state", "error", err, "userId", userID)
	}

	s.bus.Publish(bus.GlobalTopic, map[string]any{"type": "insight:new", "insightId": saved.ID, "userId": userID})

	if channelAvailable && hasQuestions {
		s.postQuestions(ctx, saved)
	}
}

// handleAnswer implements §4.8 step 7: when an answer lands on
// thread:ready, reload the insight, and if it is still awaiting answers,
// re-run the analyzer in refinement mode with every so-far answer folded
// in, producing either a deeper preliminary round or a final refined
// insight (capped at Config.MaxRounds).
func (s *Scheduler) handleAnswer(ctx context.Context, msg bus.ThreadReadyMessage) {
	in, err := s.store.GetInsight(msg.InsightID)
	if err != nil {
		slog.Error("insight: load for refinement", "error", err, "insightId", msg.InsightID)
		return
	}
	if in.Phase != model.PhasePreliminary {
		return // already refined/final-no-answers/none; a stray or late answer
	}

	answered := 0
	for _, q := range in.Questions {
		if q.AnsweredAt != nil {
			answered++
		}
	}
	if answered == 0 {
		return
	}
	in.AnswersReceived = answered

	messages := []*schema.Message{
		{Role: schema.System, Content: analysisSystemPrompt},
		{Role: schema.User, Content: refinementPrompt(in)},
	}

	result, err := s.analyzer.Run(ctx, messages, s.tools(), s.logToolCall)
	if err != nil {
		slog.Error("insight: refinement run", "error", err, "insightId", in.ID)
		s.bus.Publish(bus.GlobalTopic, map[string]any{"type": "insight:error", "insightId": in.ID, "error": err.Error(), "reason": string(models.Classify(err))})
		return
	}

	parsed, err := parseAnalysisResult(result.FinalText)
	if err != nil {
		slog.Error("insight: parse refinement output", "error", err, "insightId", in.ID)
		s.bus.Publish(bus.GlobalTopic, map[string]any{"type": "insight:error", "insightId": in.ID, "error": err.Error(), "reason": "unparseable_output"})
		return
	}

	in.Content = renderMarkdown(parsed)
	in.Categories = parsed.Categories()
	in.FollowUpActions = parsed.FollowUpActions
	in.Usage.Input += result.Usage.InputTokens
	in.Usage.Output += result.Usage.OutputTokens

	channelAvailable := s.channelAvailable()
	var fresh []model.Question
	if len(parsed.Questions) > 0 && channelAvailable && in.Round < s.cfg.MaxRounds {
		in.Round++
		in.Phase = model.PhasePreliminary
		for _, q := range parsed.Questions {
			nq := model.Question{ID: uuid.New().String(), InsightID: in.ID, Text: q}
			in.Questions = append(in.Questions, nq)
			fresh = append(fresh, nq)
		}
	} else {
		in.Phase = model.PhaseRefined
	}

	if err := s.store.UpdateInsight(in); err != nil {
		slog.Error("insight: update refined", "error", err, "insightId", in.ID)
		return
	}

	s.bus.Publish(bus.GlobalTopic, map[string]any{"type": "insight:updated", "insightId": in.ID})

	for _, q := range fresh {
		if err := s.channel.Post(ctx, in.ID, q.ID, q.Text); err != nil {
			slog.Error("insight: post follow-up question", "error", err, "questionId", q.ID)
		}
	}
}

func (s *Scheduler) postQuestions(ctx context.Context, in model.Insight) {
	for _, q := range in.Questions {
		if err := s.channel.Post(ctx, in.ID, q.ID, q.Text); err != nil {
			slog.Error("insight: post question", "error", err, "questionId", q.ID)
		}
	}
}

func (s *Scheduler) channelAvailable() bool {
	return !s.cfg.DisableQuestionChannel && s.channel != nil
}

func (s *Scheduler) tools() []tool.InvokableTool {
	return []tool.InvokableTool{
		analyzer.NewSQLTool(s.store),
		analyzer.NewSchemaTool(s.schemaText),
	}
}

func (s *Scheduler) logToolCall(tc analyzer.ToolCall) {
	if tc.Err != nil {
		slog.Warn("insight: tool call failed", "tool", tc.Name, "error", tc.Err)
		return
	}
	slog.Debug("insight: tool call", "tool", tc.Name)
}
