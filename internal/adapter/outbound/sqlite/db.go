// Package sqlite provides durable stores for audit entries and tool
// versions backed by an embedded SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. The connection pool is capped at one connection so
// writes serialize at the database level.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id      TEXT NOT NULL,
	tool           TEXT NOT NULL,
	input_params   TEXT NOT NULL DEFAULT 'null',
	output_summary TEXT NOT NULL DEFAULT 'null',
	success        INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	error_code     TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	session_id     TEXT NOT NULL DEFAULT '',
	workspace_id   TEXT NOT NULL DEFAULT '',
	actor_type     TEXT NOT NULL DEFAULT '',
	actor_id       TEXT NOT NULL DEFAULT '',
	actor_ip       TEXT NOT NULL DEFAULT '',
	agent_type     TEXT NOT NULL DEFAULT '',
	plan_slug      TEXT NOT NULL DEFAULT '',
	sensitive      INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	previous_hash  TEXT,
	entry_hash     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tool_versions (
	server              TEXT NOT NULL,
	tool                TEXT NOT NULL,
	version             TEXT NOT NULL,
	input_schema        TEXT,
	output_schema       TEXT,
	is_latest           INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'active',
	deprecation_message TEXT NOT NULL DEFAULT '',
	sunset_message      TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	PRIMARY KEY (server, tool, version)
);

CREATE INDEX IF NOT EXISTS idx_tool_versions_latest
	ON tool_versions (server, tool, is_latest);
`

// migrate applies the schema, idempotently.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
