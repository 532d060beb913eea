package stats

import (
	"fmt"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
)

// NewCollector creates a statistics collector based on the provided configuration
func NewCollector(cfg config.StatisticsConfig) (Collector, error) {
	if !cfg.Enabled {
		return NewDummyCollector(), nil
	}

	var (
		collector *SQLCollector
		err       error
	)
	switch cfg.Backend {
	case "sqlite", "":
		sqlitePath := cfg.SQLitePath
		if sqlitePath == "" {
			sqlitePath = "vermittler_stats.db"
		}
		collector, err = NewSQLiteCollector(sqlitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres-dsn is required for postgres backend")
		}
		collector, err = NewPostgreSQLCollector(cfg.PostgresDSN)
	case "dummy":
		return NewDummyCollector(), nil
	default:
		return nil, fmt.Errorf("unsupported stats backend: %s", cfg.Backend)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s collector: %w", cfg.Backend, err)
	}
	// database writes happen off the request path
	interval := time.Duration(cfg.FlushIntervalMillis) * time.Millisecond
	return NewBufferedCollectorWithInterval(collector, interval), nil
}
