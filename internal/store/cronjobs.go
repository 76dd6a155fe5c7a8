package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/model"
)

// CreateCronJob persists a new user-defined job, generating its id if absent.
func (s *Store) CreateCronJob(j model.CronJob) (model.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Timezone == "" {
		j.Timezone = "UTC"
	}

	_, err := s.db.Exec(`
		INSERT INTO cron_jobs (id, user_id, name, prompt, schedule_text, cron_expression, timezone, enabled, notify_slack,
			last_run_at, last_run_session_id, last_run_status, next_run_at, total_runs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.Name, j.Prompt, j.ScheduleText, j.CronExpression, j.Timezone, j.Enabled, j.NotifySlack,
		nullTime(j.LastRunAt), j.LastRunSessionID, string(j.LastRunStatus), nullTime(j.NextRunAt), j.TotalRuns,
	)
	if err != nil {
		return model.CronJob{}, fault("createCronJob", err)
	}
	return j, nil
}

// GetCronJob returns a job by id, or ErrNotFound.
func (s *Store) GetCronJob(id string) (model.CronJob, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, prompt, schedule_text, cron_expression, timezone, enabled, notify_slack,
			last_run_at, last_run_session_id, last_run_status, next_run_at, total_runs
		FROM cron_jobs WHERE id = ?`, id)

	j, err := scanCronJob(row)
	if err == sql.ErrNoRows {
		return model.CronJob{}, ErrNotFound
	}
	if err != nil {
		return model.CronJob{}, fault("getCronJob", err)
	}
	return j, nil
}

// ListCronJobs returns every job for a user (or every job, if userID is empty
// — the cron runner's own enumeration needs the global view).
func (s *Store) ListCronJobs(userID string) ([]model.CronJob, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = s.db.Query(`
			SELECT id, user_id, name, prompt, schedule_text, cron_expression, timezone, enabled, notify_slack,
				last_run_at, last_run_session_id, last_run_status, next_run_at, total_runs
			FROM cron_jobs ORDER BY name ASC`)
	} else {
		rows, err = s.db.Query(`
			SELECT id, user_id, name, prompt, schedule_text, cron_expression, timezone, enabled, notify_slack,
				last_run_at, last_run_session_id, last_run_status, next_run_at, total_runs
			FROM cron_jobs WHERE user_id = ? ORDER BY name ASC`, userID)
	}
	if err != nil {
		return nil, fault("listCronJobs", err)
	}
	defer rows.Close()

	var out []model.CronJob
	for rows.Next() {
		j, err := scanCronJob(rows)
		if err != nil {
			return nil, fault("listCronJobs: scan", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateCronJob overwrites a job's editable fields (name/prompt/schedule/enabled/notify).
func (s *Store) UpdateCronJob(j model.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE cron_jobs SET name = ?, prompt = ?, schedule_text = ?, cron_expression = ?, timezone = ?,
			enabled = ?, notify_slack = ?
		WHERE id = ?`,
		j.Name, j.Prompt, j.ScheduleText, j.CronExpression, j.Timezone, j.Enabled, j.NotifySlack, j.ID)
	if err != nil {
		return fault("updateCronJob", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCronRun bumps a job's run bookkeeping after a trigger fires.
func (s *Store) RecordCronRun(id, sessionID string, status model.RunStatus, runAt, nextRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE cron_jobs SET last_run_at = ?, last_run_session_id = ?, last_run_status = ?, next_run_at = ?,
			total_runs = total_runs + 1
		WHERE id = ?`,
		nullTime(runAt), sessionID, string(status), nullTime(nextRunAt), id)
	if err != nil {
		return fault("recordCronRun", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCronJob removes a job definition.
func (s *Store) DeleteCronJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return fault("deleteCronJob", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func scanCronJob(row scanner) (model.CronJob, error) {
	var (
		j                                  model.CronJob
		status                             string
		lastRunAt, nextRunAt               sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Name, &j.Prompt, &j.ScheduleText, &j.CronExpression, &j.Timezone,
		&j.Enabled, &j.NotifySlack, &lastRunAt, &j.LastRunSessionID, &status, &nextRunAt, &j.TotalRuns)
	if err != nil {
		return model.CronJob{}, err
	}
	j.LastRunStatus = model.RunStatus(status)
	if lastRunAt.Valid {
		t := time.UnixMilli(lastRunAt.Int64)
		j.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := time.UnixMilli(nextRunAt.Int64)
		j.NextRunAt = &t
	}
	return j, nil
}
