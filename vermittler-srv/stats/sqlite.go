package stats

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteCollector creates a new SQLite-based statistics collector
func NewSQLiteCollector(dbPath string) (*SQLCollector, error) {
	db, err := sql.Open(dialectSQLite, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	// WAL lets readers proceed while connections are being recorded
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	collector, err := newSQLCollector(context.Background(), db, dialectSQLite)
	if err != nil {
		return nil, err
	}
	logger.Debug("Initialized stats collector sqlite at %s", dbPath)
	return collector, nil
}
