package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLCollector implements Collector on top of database/sql. The same queries
// serve SQLite and PostgreSQL; placeholders are rebound per dialect.
type SQLCollector struct {
	db      *sql.DB
	dialect string
}

func newSQLCollector(ctx context.Context, db *sql.DB, dialect string) (*SQLCollector, error) {
	if err := initSchema(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLCollector{db: db, dialect: dialect}, nil
}

func (s *SQLCollector) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
	return err
}

// StartConnection records the start of an outbound connection and returns its ID.
func (s *SQLCollector) StartConnection(ctx context.Context, connectionUUID, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	const query = `INSERT INTO connections (connection_uuid, client_ip, target_host, target_port, protocol, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now()

	if s.dialect == dialectPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx, rebind(s.dialect, query+" RETURNING id"),
			connectionUUID, clientIP, targetHost, targetPort, protocol, now).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to record connection start: %w", err)
		}
		return id, nil
	}

	result, err := s.db.ExecContext(ctx, query, connectionUUID, clientIP, targetHost, targetPort, protocol, now)
	if err != nil {
		return 0, fmt.Errorf("failed to record connection start: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get connection ID: %w", err)
	}
	return id, nil
}

// EndConnection records the end of a connection
func (s *SQLCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	err := s.exec(ctx,
		`UPDATE connections
		 SET ended_at = ?, bytes_sent = ?, bytes_received = ?, duration_ms = ?, close_reason = ?
		 WHERE id = ?`,
		time.Now(), bytesSent, bytesReceived, duration.Milliseconds(), closeReason, connectionID)
	if err != nil {
		return fmt.Errorf("failed to record connection end: %w", err)
	}
	return nil
}

// RecordHTTPRequest records a relayed HTTP exchange
func (s *SQLCollector) RecordHTTPRequest(ctx context.Context, record RequestRecord) error {
	err := s.exec(ctx,
		`INSERT INTO http_requests (request_id, listener, kind, client_ip, method, url, host, user_agent, status_code, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RequestID, record.Listener, record.Kind, record.ClientIP, record.Method, record.URL,
		record.Host, record.UserAgent, record.StatusCode, record.Duration.Milliseconds(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record HTTP request: %w", err)
	}
	return nil
}

// RecordError records an error
func (s *SQLCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	err := s.exec(ctx,
		`INSERT INTO errors (connection_id, error_type, error_message, timestamp)
		 VALUES (?, ?, ?, ?)`,
		connectionID, errorType, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	return nil
}

// RecordBlockedRequest records a blocked request
func (s *SQLCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	err := s.exec(ctx,
		`INSERT INTO security_events (client_ip, target_host, event_type, reason, timestamp)
		 VALUES (?, ?, 'blocked', ?, ?)`,
		clientIP, targetHost, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record blocked request: %w", err)
	}
	return nil
}

// Summary returns totals over all recorded events.
func (s *SQLCollector) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(bytes_sent), 0), COALESCE(SUM(bytes_received), 0) FROM connections`).
		Scan(&summary.Connections, &summary.BytesSent, &summary.BytesReceived)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}

	counts := []struct {
		table string
		dst   *int64
	}{
		{"http_requests", &summary.Requests},
		{"errors", &summary.Errors},
		{"security_events", &summary.Blocked},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", c.table, err)
		}
	}
	return summary, nil
}

// HealthCheck pings the database
func (s *SQLCollector) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLCollector) Close() error {
	return s.db.Close()
}
