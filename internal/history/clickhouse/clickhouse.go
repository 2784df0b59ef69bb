package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/fgsvc/internal/history"
)

// Sink sends events to ClickHouse using the native protocol client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port of the native interface) and ensures table exists.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id String,
			type String,
			occurred_at DateTime64(6),
			name String,
			pid UInt32,
			state String,
			started_at Nullable(DateTime64(6)),
			error String
		) ENGINE = MergeTree()
		ORDER BY (name, occurred_at)`, s.table))
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, type, occurred_at, name, pid, state, started_at, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	err := s.conn.Exec(ctx, query,
		e.ID,
		string(e.Type),
		e.OccurredAt,
		e.Record.Name,
		uint32(e.Record.PID),
		e.Record.State,
		startedAt(e.Record),
		e.Record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// startedAt maps a zero start time to NULL.
func startedAt(r history.Record) *time.Time {
	if r.StartedAt.IsZero() {
		return nil
	}
	t := r.StartedAt.UTC()
	return &t
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
