// Package sqlite persists the runtime state in a single SQLite database.
// One Store implements every runtime port (schedules, sessions, agents,
// channels, memory, audit) so the whole node shares one durable file and
// the command lane can apply its execution transaction atomically.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed implementation of the runtime persistence ports.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id                TEXT PRIMARY KEY,
	permission_mode   TEXT NOT NULL,
	token_budget      INTEGER NOT NULL,
	quota_period      TEXT NOT NULL,
	tokens_consumed   INTEGER NOT NULL DEFAULT 0,
	budget_reset_at   INTEGER
);

CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	conversation_id  TEXT NOT NULL,
	token_capacity   INTEGER NOT NULL,
	tokens_used      INTEGER NOT NULL DEFAULT 0 CHECK (tokens_used >= 0)
);

CREATE TABLE IF NOT EXISTS turns (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES sessions(id),
	conversation_id  TEXT NOT NULL,
	turn_index       INTEGER NOT NULL,
	role             TEXT NOT NULL,
	message_id       TEXT NOT NULL,
	content          TEXT NOT NULL DEFAULT '',
	blocks_json      TEXT NOT NULL DEFAULT '[]',
	finish_reason    TEXT NOT NULL DEFAULT '',
	usage_json       TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	UNIQUE (session_id, turn_index)
);

CREATE TABLE IF NOT EXISTS channels (
	id                      TEXT PRIMARY KEY,
	type                    TEXT NOT NULL,
	agent_id                TEXT NOT NULL,
	active_session_id       TEXT NOT NULL DEFAULT '',
	active_conversation_id  TEXT NOT NULL DEFAULT '',
	created_at              INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
	id                        TEXT PRIMARY KEY,
	owner_agent_id            TEXT NOT NULL,
	recurrence_label          TEXT NOT NULL DEFAULT '',
	cron_expression           TEXT NOT NULL DEFAULT '',
	interval_seconds          INTEGER NOT NULL DEFAULT 0,
	trigger                   TEXT NOT NULL,
	action_ref                TEXT NOT NULL,
	status                    TEXT NOT NULL,
	concurrency               TEXT NOT NULL,
	allows_catch_up           INTEGER NOT NULL DEFAULT 0,
	auto_disable_after_run    INTEGER NOT NULL DEFAULT 0,
	catch_up_window_seconds   INTEGER NOT NULL DEFAULT 0,
	max_catch_up_runs         INTEGER NOT NULL DEFAULT 0,
	last_execution_at         INTEGER,
	next_execution_at         INTEGER
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (status, next_execution_at);

CREATE TABLE IF NOT EXISTS scheduled_executions (
	id              TEXT PRIMARY KEY,
	schedule_id     TEXT NOT NULL REFERENCES schedules(id),
	due_at          INTEGER NOT NULL,
	trigger_source  TEXT NOT NULL,
	outcome         TEXT NOT NULL CHECK (outcome IN ('ExecutionSucceeded','ExecutionFailed','ExecutionSkipped')),
	started_at      INTEGER NOT NULL,
	ended_at        INTEGER,
	skip_reason     TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_schedule ON scheduled_executions (schedule_id, created_at);

CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL,
	reason      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries (agent_id, created_at);

CREATE TABLE IF NOT EXISTS memory_items (
	id                    TEXT PRIMARY KEY,
	agent_id              TEXT NOT NULL,
	tier                  TEXT NOT NULL CHECK (tier IN ('Working','Episodic','Semantic','Procedural')),
	scope                 TEXT NOT NULL CHECK (scope IN ('Session','Project','Global')),
	source                TEXT NOT NULL CHECK (source IN ('User','System','Agent')),
	content               TEXT NOT NULL,
	metadata_json         TEXT NOT NULL DEFAULT '',
	generated_by_turn_id  TEXT NOT NULL DEFAULT '',
	session_id            TEXT NOT NULL DEFAULT '',
	sensitivity           TEXT NOT NULL CHECK (sensitivity IN ('Public','Internal','Confidential','Restricted')),
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_agent_created ON memory_items (agent_id, created_at, id);
`

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite serializes writes itself but a single connection avoids
	// SQLITE_BUSY between the command lane and the HTTP handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for maintenance commands.
func (s *Store) DB() *sql.DB { return s.db }

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Times persist as UTC epoch milliseconds.

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func msPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMSPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
