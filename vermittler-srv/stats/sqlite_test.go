package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codefionn/vermittler/vermittler-srv/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLCollector {
	t.Helper()
	collector, err := NewSQLiteCollector(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { collector.Close() })
	return collector
}

func TestSQLiteCollectorRecordsConnections(t *testing.T) {
	ctx := context.Background()
	collector := newTestSQLite(t)

	id, err := collector.StartConnection(ctx, "uuid-1", "127.0.0.1", "example.com", 443, "tcp")
	require.NoError(t, err)
	assert.Positive(t, id)

	require.NoError(t, collector.EndConnection(ctx, id, 100, 250, 2*time.Second, "closed"))

	id2, err := collector.StartConnection(ctx, "uuid-2", "127.0.0.1", "example.org", 80, "tcp")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
	require.NoError(t, collector.EndConnection(ctx, id2, 1, 2, time.Millisecond, "closed"))

	summary, err := collector.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Connections)
	assert.Equal(t, int64(101), summary.BytesSent)
	assert.Equal(t, int64(252), summary.BytesReceived)
}

func TestSQLiteCollectorRecordsEvents(t *testing.T) {
	ctx := context.Background()
	collector := newTestSQLite(t)

	require.NoError(t, collector.RecordHTTPRequest(ctx, RequestRecord{
		RequestID:  "req-1",
		Listener:   "127.0.0.1:3128",
		Kind:       "forward",
		Method:     "GET",
		URL:        "http://example.com/",
		Host:       "example.com",
		StatusCode: 200,
		Duration:   15 * time.Millisecond,
	}))
	require.NoError(t, collector.RecordError(ctx, 0, "dial", "connection refused"))
	require.NoError(t, collector.RecordBlockedRequest(ctx, "10.0.0.1", "ads.example.com", "blocklist"))
	require.NoError(t, collector.RecordBlockedRequest(ctx, "10.0.0.1", "", "auth_failed"))

	summary, err := collector.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Requests)
	assert.Equal(t, int64(1), summary.Errors)
	assert.Equal(t, int64(2), summary.Blocked)
	assert.NoError(t, collector.HealthCheck(ctx))
}

func TestSQLiteCollectorReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	first, err := NewSQLiteCollector(path)
	require.NoError(t, err)
	_, err = first.StartConnection(context.Background(), "u", "1.1.1.1", "h", 1, "tcp")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteCollector(path)
	require.NoError(t, err)
	defer second.Close()
	summary, err := second.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Connections)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT ?, ?", rebind(dialectSQLite, "SELECT ?, ?"))
	assert.Equal(t, "SELECT $1, $2", rebind(dialectPostgres, "SELECT ?, ?"))
}

func TestNewCollector(t *testing.T) {
	collector, err := NewCollector(config.StatisticsConfig{})
	require.NoError(t, err)
	assert.IsType(t, &DummyCollector{}, collector)

	collector, err = NewCollector(config.StatisticsConfig{Enabled: true, Backend: "dummy"})
	require.NoError(t, err)
	assert.IsType(t, &DummyCollector{}, collector)

	collector, err = NewCollector(config.StatisticsConfig{Enabled: true, Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &BufferedCollector{}, collector)
	collector.Close()

	_, err = NewCollector(config.StatisticsConfig{Enabled: true, Backend: "postgres"})
	assert.ErrorContains(t, err, "postgres-dsn is required")

	_, err = NewCollector(config.StatisticsConfig{Enabled: true, Backend: "redis"})
	assert.ErrorContains(t, err, "unsupported stats backend")
}
