package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/model"
)

// Append upserts the session row and inserts the event, atomically with
// respect to readers (§4.1): a reader either sees both the event and the
// session-row update, or neither, because both writes happen inside one
// transaction guarded by the store's write mutex.
func (s *Store) Append(e model.Event) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return e, fault("append: begin", err)
	}
	defer tx.Rollback()

	if err := upsertSession(tx, e); err != nil {
		return e, fault("append: upsert session", err)
	}

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(insert_seq), 0) + 1 FROM events`).Scan(&seq); err != nil {
		return e, fault("append: next seq", err)
	}
	e.InsertSeq = seq

	toolInput, err := marshalNullable(e.ToolInput)
	if err != nil {
		return e, fault("append: marshal tool_input", err)
	}
	toolOutput, err := marshalNullable(e.ToolOutput)
	if err != nil {
		return e, fault("append: marshal tool_output", err)
	}
	meta, err := marshalNullable(e.Meta)
	if err != nil {
		return e, fault("append: marshal meta", err)
	}

	_, err = tx.Exec(`
		INSERT INTO events (id, session_id, insert_seq, timestamp, source, category, type, role, text, tool_name, tool_input, tool_output, error, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.InsertSeq, e.Timestamp, string(e.Source), string(e.Category), e.Type,
		string(e.Role), e.Text, e.ToolName, toolInput, toolOutput, e.Error, meta,
	)
	if err != nil {
		return e, fault("append: insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return e, fault("append: commit", err)
	}
	return e, nil
}

// upsertSession creates the session row if absent, else refreshes
// last_event_time and applies the side-rules (§4.1): session.end completes,
// category=error errors, and any other event reactivates a completed session.
func upsertSession(tx *sql.Tx, e model.Event) error {
	var (
		status string
		exists bool
	)
	err := tx.QueryRow(`SELECT status FROM sessions WHERE id = ?`, e.SessionID).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		exists = false
	case err != nil:
		return err
	default:
		exists = true
	}

	newStatus := string(model.SessionActive)
	switch {
	case e.Category == model.CategoryError:
		newStatus = string(model.SessionError)
	case e.Type == "session.end":
		newStatus = string(model.SessionCompleted)
	case exists && status == string(model.SessionCompleted):
		newStatus = string(model.SessionActive)
	case exists:
		newStatus = status
	}

	if !exists {
		_, err := tx.Exec(`
			INSERT INTO sessions (id, source, start_time, last_event_time, status, metadata, user_id)
			VALUES (?, ?, ?, ?, ?, '{}', '')`,
			e.SessionID, string(e.Source), e.Timestamp, e.Timestamp, newStatus,
		)
		return err
	}

	_, err = tx.Exec(`UPDATE sessions SET last_event_time = ?, status = ? WHERE id = ?`,
		e.Timestamp, newStatus, e.SessionID)
	return err
}

// GetSession returns the session with derived fields applied, or ErrNotFound.
func (s *Store) GetSession(id string) (model.Session, error) {
	row := s.db.QueryRow(`SELECT id, source, start_time, last_event_time, status, metadata, user_id FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fault("getSession", err)
	}
	if err := s.applyDerived(&sess); err != nil {
		return model.Session{}, fault("getSession: derived", err)
	}
	return sess, nil
}

// ListSessions returns all sessions ordered by lastEventTime descending,
// derived fields applied.
func (s *Store) ListSessions() ([]model.Session, error) {
	rows, err := s.db.Query(`SELECT id, source, start_time, last_event_time, status, metadata, user_id FROM sessions ORDER BY last_event_time DESC`)
	if err != nil {
		return nil, fault("listSessions", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fault("listSessions: scan", err)
		}
		if err := s.applyDerived(&sess); err != nil {
			return nil, fault("listSessions: derived", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSessionEvents returns all events for a session ordered by
// (timestamp asc, insertion order asc).
func (s *Store) GetSessionEvents(id string) ([]model.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, insert_seq, timestamp, source, category, type, role, text, tool_name, tool_input, tool_output, error, meta
		FROM events WHERE session_id = ? ORDER BY timestamp ASC, insert_seq ASC`, id)
	if err != nil {
		return nil, fault("getSessionEvents", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fault("getSessionEvents: scan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateSessionMeta shallow-merges patch into the session's metadata map.
func (s *Store) UpdateSessionMeta(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow(`SELECT metadata FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fault("updateSessionMeta: read", err)
	}

	meta := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return fault("updateSessionMeta: unmarshal", err)
		}
	}
	for k, v := range patch {
		meta[k] = v
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fault("updateSessionMeta: marshal", err)
	}

	_, err = s.db.Exec(`UPDATE sessions SET metadata = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fault("updateSessionMeta: write", err)
	}
	return nil
}

// SetSessionUser attributes a session to the authenticated principal that
// ingested it, idempotently (§4.8 step 1 needs this to enumerate per-user
// activity). A no-op if the session does not exist yet.
func (s *Store) SetSessionUser(id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE sessions SET user_id = ? WHERE id = ? AND user_id = ''`, userID, id)
	if err != nil {
		return fault("setSessionUser", err)
	}
	_, _ = res.RowsAffected()
	return nil
}

// DeleteSession cascades events before the session row.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fault("deleteSession: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return fault("deleteSession: events", err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fault("deleteSession: session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return fault("deleteSession: commit", tx.Commit())
}

// ClearAll purges every session and event.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fault("clearAll: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM events`); err != nil {
		return fault("clearAll: events", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fault("clearAll: sessions", err)
	}
	return fault("clearAll: commit", tx.Commit())
}

// applyDerived computes eventCount, lastEventType, lastEventText, and the
// effective status, without mutating stored state.
func (s *Store) applyDerived(sess *model.Session) error {
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = ?`, sess.ID).Scan(&sess.EventCount); err != nil {
		return err
	}

	row := s.db.QueryRow(`
		SELECT type, text FROM events WHERE session_id = ?
		ORDER BY timestamp DESC, insert_seq DESC LIMIT 1`, sess.ID)
	var typ, text string
	switch err := row.Scan(&typ, &text); err {
	case nil:
		sess.LastEventType = typ
		sess.LastEventText = text
	case sql.ErrNoRows:
		// no events yet, nothing to derive
	default:
		return err
	}

	sess.Status = sess.EffectiveStatus(time.Now())
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.Session, error) {
	var (
		sess     model.Session
		source   string
		status   string
		metadata string
	)
	err := row.Scan(&sess.ID, &source, &sess.StartTime, &sess.LastEventTime, &status, &metadata, &sess.UserID)
	if err != nil {
		return model.Session{}, err
	}
	sess.Source = model.Source(source)
	sess.Status = model.SessionStatus(status)
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &sess.Metadata)
	}
	return sess, nil
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		e                              model.Event
		source, category, role         string
		toolInput, toolOutput, metaRaw sql.NullString
	)
	err := row.Scan(&e.ID, &e.SessionID, &e.InsertSeq, &e.Timestamp, &source, &category, &e.Type,
		&role, &e.Text, &e.ToolName, &toolInput, &toolOutput, &e.Error, &metaRaw)
	if err != nil {
		return model.Event{}, err
	}
	e.Source = model.Source(source)
	e.Category = model.Category(category)
	e.Role = model.Role(role)
	if toolInput.Valid {
		_ = json.Unmarshal([]byte(toolInput.String), &e.ToolInput)
	}
	if toolOutput.Valid {
		var v any
		if err := json.Unmarshal([]byte(toolOutput.String), &v); err == nil {
			e.ToolOutput = v
		} else {
			e.ToolOutput = toolOutput.String
		}
	}
	if metaRaw.Valid {
		_ = json.Unmarshal([]byte(metaRaw.String), &e.Meta)
	}
	return e, nil
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
