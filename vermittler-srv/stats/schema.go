package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const (
	dialectSQLite   = "sqlite3"
	dialectPostgres = "postgres"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_uuid TEXT,
		client_ip TEXT NOT NULL,
		target_host TEXT NOT NULL,
		target_port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		bytes_sent INTEGER NOT NULL DEFAULT 0,
		bytes_received INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER,
		close_reason TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS http_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT,
		listener TEXT NOT NULL,
		kind TEXT NOT NULL,
		client_ip TEXT,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		host TEXT,
		user_agent TEXT,
		status_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id INTEGER,
		error_type TEXT NOT NULL,
		error_message TEXT,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS security_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_ip TEXT,
		target_host TEXT,
		event_type TEXT NOT NULL,
		reason TEXT,
		timestamp DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_target_host ON connections(target_host)`,
	`CREATE INDEX IF NOT EXISTS idx_http_requests_timestamp ON http_requests(timestamp)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id BIGSERIAL PRIMARY KEY,
		connection_uuid TEXT,
		client_ip TEXT NOT NULL,
		target_host TEXT NOT NULL,
		target_port INTEGER NOT NULL,
		protocol TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		bytes_sent BIGINT NOT NULL DEFAULT 0,
		bytes_received BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT,
		close_reason TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS http_requests (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT,
		listener TEXT NOT NULL,
		kind TEXT NOT NULL,
		client_ip TEXT,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		host TEXT,
		user_agent TEXT,
		status_code INTEGER NOT NULL,
		duration_ms BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS errors (
		id BIGSERIAL PRIMARY KEY,
		connection_id BIGINT,
		error_type TEXT NOT NULL,
		error_message TEXT,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS security_events (
		id BIGSERIAL PRIMARY KEY,
		client_ip TEXT,
		target_host TEXT,
		event_type TEXT NOT NULL,
		reason TEXT,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_connections_target_host ON connections(target_host)`,
	`CREATE INDEX IF NOT EXISTS idx_http_requests_timestamp ON http_requests(timestamp)`,
}

func initSchema(ctx context.Context, db *sql.DB, dialect string) error {
	statements := sqliteSchema
	if dialect == dialectPostgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func rebind(dialect, query string) string {
	if dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
