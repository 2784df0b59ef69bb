package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/fgsvc/internal/history"
)

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("ClickHouse container unavailable: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	sink, err := New(host+":"+port.Port(), "task_history")
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	started := time.Now().Add(-time.Minute).UTC()
	for _, typ := range []history.EventType{history.EventStart, history.EventStop} {
		rec := history.Record{Name: "svc", PID: 42, State: "running"}
		if typ == history.EventStart {
			rec.StartedAt = started
		}
		e := history.Event{ID: string(typ), Type: typ, OccurredAt: time.Now().UTC(), Record: rec}
		require.NoError(t, sink.Send(ctx, e))
	}

	var count uint64
	require.NoError(t, sink.conn.QueryRow(ctx, "SELECT count() FROM task_history WHERE name = 'svc'").Scan(&count))
	assert.Equal(t, uint64(2), count)

	var withStart uint64
	require.NoError(t, sink.conn.QueryRow(ctx, "SELECT count() FROM task_history WHERE started_at IS NOT NULL").Scan(&withStart))
	assert.Equal(t, uint64(1), withStart)
}
