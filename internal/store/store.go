// Package store implements C1: durable storage of Sessions, Events,
// Insights, and CronJobs, backed by an embedded relational database opened
// with write-ahead logging, mirroring the teacher's preference for a single,
// dependency-light persistence layer (internal/storage/dirstore's
// create-if-absent, atomic-write discipline) carried over to a real SQL
// schema instead of one-JSON-file-per-entity.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the C1 durable store. A single coarse mutex serialises writes
// (the teacher's dirstore.Lock/Unlock discipline); readers go straight to
// the database without the mutex, but share Open's single pooled
// connection, so their queries wait behind any in-flight write.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and migrates) the sqlite database at path. An empty/":memory:"
// path is honoured as-is, useful for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across conns
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	last_event_time INTEGER NOT NULL,
	status TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	user_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	insert_seq INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	source TEXT NOT NULL,
	category TEXT NOT NULL,
	type TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL DEFAULT '',
	tool_input TEXT,
	tool_output TEXT,
	error TEXT NOT NULL DEFAULT '',
	meta TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, timestamp, insert_seq);

CREATE TABLE IF NOT EXISTS insights (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	repo TEXT NOT NULL DEFAULT '',
	window_start INTEGER NOT NULL,
	window_end INTEGER NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	categories TEXT,
	follow_up_actions TEXT,
	sessions_analyzed INTEGER NOT NULL DEFAULT 0,
	events_analyzed INTEGER NOT NULL DEFAULT 0,
	usage_input INTEGER NOT NULL DEFAULT 0,
	usage_output INTEGER NOT NULL DEFAULT 0,
	phase TEXT NOT NULL DEFAULT '',
	round INTEGER NOT NULL DEFAULT 0,
	answers_received INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_user ON insights(user_id);

CREATE TABLE IF NOT EXISTS insight_questions (
	id TEXT PRIMARY KEY,
	insight_id TEXT NOT NULL REFERENCES insights(id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	answer TEXT NOT NULL DEFAULT '',
	answered_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_questions_insight ON insight_questions(insight_id);

CREATE TABLE IF NOT EXISTS insight_analysis_state (
	user_id TEXT PRIMARY KEY,
	last_analyzed_at INTEGER NOT NULL DEFAULT 0,
	last_event_timestamp INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cron_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	prompt TEXT NOT NULL,
	schedule_text TEXT NOT NULL DEFAULT '',
	cron_expression TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	enabled INTEGER NOT NULL DEFAULT 1,
	notify_slack INTEGER NOT NULL DEFAULT 0,
	last_run_at INTEGER,
	last_run_session_id TEXT NOT NULL DEFAULT '',
	last_run_status TEXT NOT NULL DEFAULT '',
	next_run_at INTEGER,
	total_runs INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cron_jobs_user ON cron_jobs(user_id);

CREATE TABLE IF NOT EXISTS api_keys (
	hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	revoked INTEGER NOT NULL DEFAULT 0
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}
