package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
	_ "github.com/lib/pq"
)

// NewPostgreSQLCollector creates a new PostgreSQL-based statistics collector
func NewPostgreSQLCollector(dsn string) (*SQLCollector, error) {
	db, err := sql.Open(dialectPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	collector, err := newSQLCollector(ctx, db, dialectPostgres)
	if err != nil {
		return nil, err
	}
	logger.Debug("Initialized stats collector postgres")
	return collector, nil
}
