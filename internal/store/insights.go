package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/model"
)

// DistinctUserIDs returns every user with at least one session, for the
// insight scheduler's per-user enumeration (§4.8 step 1).
func (s *Store) DistinctUserIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM sessions WHERE user_id != ''`)
	if err != nil {
		return nil, fault("distinctUserIDs", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fault("distinctUserIDs: scan", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountEventsSince counts events for a user's sessions newer than ts, used
// to decide whether a run meets the new-event threshold (§4.8 step 3).
func (s *Store) CountEventsSince(userID string, ts int64) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM events e
		JOIN sessions s ON s.id = e.session_id
		WHERE s.user_id = ? AND e.timestamp > ?`, userID, ts).Scan(&n)
	if err != nil {
		return 0, fault("countEventsSince", err)
	}
	return n, nil
}

// CountSessionsSince counts the distinct sessions for a user that produced
// at least one event newer than ts, for the insight scheduler's per-run
// sessionsAnalyzed stat.
func (s *Store) CountSessionsSince(userID string, ts int64) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT e.session_id) FROM events e
		JOIN sessions s ON s.id = e.session_id
		WHERE s.user_id = ? AND e.timestamp > ?`, userID, ts).Scan(&n)
	if err != nil {
		return 0, fault("countSessionsSince", err)
	}
	return n, nil
}

// GetAnalysisState returns the per-user analysis bookkeeping, zero-valued if
// the user has never been analyzed.
func (s *Store) GetAnalysisState(userID string) (model.AnalysisState, error) {
	st := model.AnalysisState{UserID: userID}
	row := s.db.QueryRow(`SELECT last_analyzed_at, last_event_timestamp FROM insight_analysis_state WHERE user_id = ?`, userID)
	err := row.Scan(&st.LastAnalyzedAt, &st.LastEventTimestamp)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fault("getAnalysisState", err)
	}
	return st, nil
}

// PutAnalysisState upserts the per-user analysis bookkeeping.
func (s *Store) PutAnalysisState(st model.AnalysisState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO insight_analysis_state (user_id, last_analyzed_at, last_event_timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_analyzed_at = excluded.last_analyzed_at, last_event_timestamp = excluded.last_event_timestamp`,
		st.UserID, st.LastAnalyzedAt, st.LastEventTimestamp)
	return fault("putAnalysisState", err)
}

// CreateInsight persists a new Insight (and its questions, if any) and
// returns it with its generated id and timestamps populated.
func (s *Store) CreateInsight(in model.Insight) (model.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	in.CreatedAt, in.UpdatedAt = now, now

	// Assign question ids up front (not inside writeInsight's loop, which
	// only ever sees copies) so the caller gets real ids back to post to
	// the question channel and to answer against.
	for i := range in.Questions {
		if in.Questions[i].ID == "" {
			in.Questions[i].ID = uuid.New().String()
		}
		in.Questions[i].InsightID = in.ID
	}

	if err := s.writeInsight(in); err != nil {
		return model.Insight{}, err
	}
	return in, nil
}

// UpdateInsight rewrites an existing Insight in place (refinement rounds
// mutate content/phase/round/answersReceived but keep the same id).
func (s *Store) UpdateInsight(in model.Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in.UpdatedAt = time.Now().UnixMilli()
	return s.writeInsight(in)
}

func (s *Store) writeInsight(in model.Insight) error {
	categories, err := marshalNullable(in.Categories)
	if err != nil {
		return fault("writeInsight: categories", err)
	}
	actions, err := marshalNullable(in.FollowUpActions)
	if err != nil {
		return fault("writeInsight: actions", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO insights (id, user_id, repo, window_start, window_end, content, categories, follow_up_actions,
			sessions_analyzed, events_analyzed, usage_input, usage_output, phase, round, answers_received, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, categories = excluded.categories, follow_up_actions = excluded.follow_up_actions,
			phase = excluded.phase, round = excluded.round, answers_received = excluded.answers_received, updated_at = excluded.updated_at`,
		in.ID, in.UserID, in.Repo, in.WindowStart, in.WindowEnd, in.Content, categories, actions,
		in.SessionsAnalyzed, in.EventsAnalyzed, in.Usage.Input, in.Usage.Output, string(in.Phase), in.Round,
		in.AnswersReceived, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fault("writeInsight: exec", err)
	}

	for _, q := range in.Questions {
		if q.ID == "" { // UpdateInsight may still pass pre-existing questions without going through CreateInsight's assignment
			q.ID = uuid.New().String()
		}
		var answeredAt sql.NullInt64
		if q.AnsweredAt != nil {
			answeredAt = sql.NullInt64{Int64: q.AnsweredAt.UnixMilli(), Valid: true}
		}
		_, err := s.db.Exec(`
			INSERT INTO insight_questions (id, insight_id, text, answer, answered_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET answer = excluded.answer, answered_at = excluded.answered_at`,
			q.ID, in.ID, q.Text, q.Answer, answeredAt)
		if err != nil {
			return fault("writeInsight: question", err)
		}
	}
	return nil
}

// ListInsights returns every insight for a user, newest first, with their
// questions attached, for the insights browsing surface (§6).
func (s *Store) ListInsights(userID string) ([]model.Insight, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, repo, window_start, window_end, content, categories, follow_up_actions,
			sessions_analyzed, events_analyzed, usage_input, usage_output, phase, round, answers_received, created_at, updated_at
		FROM insights WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fault("listInsights", err)
	}
	defer rows.Close()

	var out []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fault("listInsights: scan", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("listInsights", err)
	}

	for i := range out {
		out[i].Questions, err = s.questionsForInsight(out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetInsight returns an Insight with its questions, or ErrNotFound.
func (s *Store) GetInsight(id string) (model.Insight, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, repo, window_start, window_end, content, categories, follow_up_actions,
			sessions_analyzed, events_analyzed, usage_input, usage_output, phase, round, answers_received, created_at, updated_at
		FROM insights WHERE id = ?`, id)

	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return model.Insight{}, ErrNotFound
	}
	if err != nil {
		return model.Insight{}, fault("getInsight", err)
	}

	in.Questions, err = s.questionsForInsight(id)
	if err != nil {
		return model.Insight{}, err
	}
	return in, nil
}

func (s *Store) questionsForInsight(insightID string) ([]model.Question, error) {
	rows, err := s.db.Query(`SELECT id, insight_id, text, answer, answered_at FROM insight_questions WHERE insight_id = ?`, insightID)
	if err != nil {
		return nil, fault("questionsForInsight", err)
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var q model.Question
		var answeredAt sql.NullInt64
		if err := rows.Scan(&q.ID, &q.InsightID, &q.Text, &q.Answer, &answeredAt); err != nil {
			return nil, fault("questionsForInsight: scan", err)
		}
		if answeredAt.Valid {
			t := time.UnixMilli(answeredAt.Int64)
			q.AnsweredAt = &t
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// AnswerQuestion records an answer for a question, for the C8 answer bridge.
func (s *Store) AnswerQuestion(questionID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	res, err := s.db.Exec(`UPDATE insight_questions SET answer = ?, answered_at = ? WHERE id = ?`, answer, now, questionID)
	if err != nil {
		return fault("answerQuestion", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInsight(row scanner) (model.Insight, error) {
	var (
		in                   model.Insight
		categories, actions  sql.NullString
		phase                string
	)
	err := row.Scan(&in.ID, &in.UserID, &in.Repo, &in.WindowStart, &in.WindowEnd, &in.Content, &categories, &actions,
		&in.SessionsAnalyzed, &in.EventsAnalyzed, &in.Usage.Input, &in.Usage.Output, &phase, &in.Round,
		&in.AnswersReceived, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return model.Insight{}, err
	}
	in.Phase = model.InsightPhase(phase)
	if categories.Valid {
		_ = json.Unmarshal([]byte(categories.String), &in.Categories)
	}
	if actions.Valid {
		_ = json.Unmarshal([]byte(actions.String), &in.FollowUpActions)
	}
	return in, nil
}
