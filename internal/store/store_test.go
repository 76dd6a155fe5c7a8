package store

import (
	"testing"
	"time"

	"github.com/agentflow/agentflow/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppend_LazyCreatesSession(t *testing.T) {
	s := newTestStore(t)

	e, err := s.Append(model.Event{
		SessionID: "sess-1",
		Timestamp: 1000,
		Source:    model.SourceClaudeCode,
		Category:  model.CategorySession,
		Type:      "session.start",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID == "" {
		t.Fatal("expected generated event id")
	}
	if e.InsertSeq != 1 {
		t.Fatalf("expected insert_seq 1, got %d", e.InsertSeq)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != model.SessionActive {
		t.Fatalf("expected active status, got %s", sess.Status)
	}
	if sess.EventCount != 1 {
		t.Fatalf("expected event count 1, got %d", sess.EventCount)
	}
}

func TestAppend_OrderingTieBrokenByInsertion(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.Append(model.Event{
			SessionID: "sess-1",
			Timestamp: 5000, // identical timestamp for all three
			Source:    model.SourceClaudeCode,
			Category:  model.CategoryMessage,
			Type:      "message",
			Text:      string(rune('a' + i)),
		}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	events, err := s.GetSessionEvents("sess-1")
	if err != nil {
		t.Fatalf("GetSessionEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		want := string(rune('a' + i))
		if e.Text != want {
			t.Errorf("event %d: expected text %q, got %q", i, want, e.Text)
		}
	}
}

func TestAppend_SessionEndCompletes(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 1, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.start"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 2, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.end"}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != model.SessionCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
}

func TestAppend_ErrorCategoryMarksError(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 1, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.start"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 2, Source: model.SourceClaudeCode, Category: model.CategoryError, Type: "error"}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != model.SessionError {
		t.Fatalf("expected error status, got %s", sess.Status)
	}
}

func TestAppend_ReactivatesCompletedSession(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 1, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.start"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 2, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.end"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 3, Source: model.SourceClaudeCode, Category: model.CategoryMessage, Type: "message"}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != model.SessionActive {
		t.Fatalf("expected reactivated to active, got %s", sess.Status)
	}
}

func TestSession_StaleGoesCompleted(t *testing.T) {
	s := newTestStore(t)

	old := time.Now().Add(-model.StaleTimeout * 2).UnixMilli()
	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: old, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.start"}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != model.SessionCompleted {
		t.Fatalf("expected stale session reported completed, got %s", sess.Status)
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteSession("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSessionMeta_ShallowMerge(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 1, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.start"}); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateSessionMeta("sess-1", map[string]any{"user": "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSessionMeta("sess-1", map[string]any{"git": "main"}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Metadata["user"] != "alice" || sess.Metadata["git"] != "main" {
		t.Fatalf("expected merged metadata, got %v", sess.Metadata)
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Append(model.Event{SessionID: "sess-1", Timestamp: 1, Source: model.SourceClaudeCode, Category: model.CategorySession, Type: "session.start"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearAll(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession("sess-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after ClearAll, got %v", err)
	}
}

func TestInsight_CreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in, err := s.CreateInsight(model.Insight{
		UserID:  "alice",
		Content: "shipped three PRs this week",
		Phase:   model.PhasePreliminary,
		Round:   1,
		Questions: []model.Question{
			{Text: "did the migration finish?"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInsight: %v", err)
	}
	if in.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetInsight(in.ID)
	if err != nil {
		t.Fatalf("GetInsight: %v", err)
	}
	if got.Content != in.Content {
		t.Fatalf("content mismatch: %q vs %q", got.Content, in.Content)
	}
	if len(got.Questions) != 1 || got.Questions[0].Text != "did the migration finish?" {
		t.Fatalf("expected one question round-tripped, got %+v", got.Questions)
	}
}

func TestInsight_AnswerQuestion(t *testing.T) {
	s := newTestStore(t)

	in, err := s.CreateInsight(model.Insight{
		UserID:    "alice",
		Questions: []model.Question{{Text: "q1"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetInsight(in.ID)
	if err != nil {
		t.Fatal(err)
	}
	qid := got.Questions[0].ID

	if err := s.AnswerQuestion(qid, "yes"); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}

	got, err = s.GetInsight(in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Questions[0].Answer != "yes" || got.Questions[0].AnsweredAt == nil {
		t.Fatalf("expected answered question, got %+v", got.Questions[0])
	}
}

func TestAnalysisState_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	st, err := s.GetAnalysisState("alice")
	if err != nil {
		t.Fatal(err)
	}
	if st.LastAnalyzedAt != 0 {
		t.Fatalf("expected zero-valued state for unseen user, got %+v", st)
	}

	if err := s.PutAnalysisState(model.AnalysisState{UserID: "alice", LastAnalyzedAt: 100, LastEventTimestamp: 90}); err != nil {
		t.Fatal(err)
	}
	st, err = s.GetAnalysisState("alice")
	if err != nil {
		t.Fatal(err)
	}
	if st.LastAnalyzedAt != 100 || st.LastEventTimestamp != 90 {
		t.Fatalf("unexpected state after put: %+v", st)
	}
}

func TestCronJob_CreateUpdateRecordRun(t *testing.T) {
	s := newTestStore(t)

	job, err := s.CreateCronJob(model.CronJob{
		UserID:         "alice",
		Name:           "daily-standup",
		Prompt:         "summarize yesterday",
		CronExpression: "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("CreateCronJob: %v", err)
	}
	if job.Timezone != "UTC" {
		t.Fatalf("expected default timezone UTC, got %s", job.Timezone)
	}

	now := time.Now()
	if err := s.RecordCronRun(job.ID, "session-xyz", model.RunSucceeded, &now, &now); err != nil {
		t.Fatalf("RecordCronRun: %v", err)
	}

	got, err := s.GetCronJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalRuns != 1 || got.LastRunSessionID != "session-xyz" || got.LastRunStatus != model.RunSucceeded {
		t.Fatalf("unexpected job after run: %+v", got)
	}
}

func TestCronJob_ListByUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateCronJob(model.CronJob{UserID: "alice", Name: "a", CronExpression: "* * * * *"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateCronJob(model.CronJob{UserID: "bob", Name: "b", CronExpression: "* * * * *"}); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.ListCronJobs("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].UserID != "alice" {
		t.Fatalf("expected one job for alice, got %+v", jobs)
	}

	all, err := s.ListCronJobs("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both jobs with empty userID, got %d", len(all))
	}
}

func TestAPIKey_MintVerifyRevoke(t *testing.T) {
	s := newTestStore(t)

	token, err := s.MintAPIKey("alice", "laptop")
	if err != nil {
		t.Fatalf("MintAPIKey: %v", err)
	}

	uid, err := s.VerifyAPIKey(token)
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if uid != "alice" {
		t.Fatalf("expected alice, got %s", uid)
	}

	if err := s.RevokeAPIKey(token); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := s.VerifyAPIKey(token); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestAPIKey_UnknownToken(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.VerifyAPIKey("agentflow_bogus"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
