// Package clickhouse implements the System Metrics sink named in spec.md
// §6 (metric_name, metric_value, tags, timestamp, indexed on
// (metric_name, timestamp)) using the driver.Conn/PrepareBatch/AppendStruct
// pattern the teacher's database package builds its BulkWriter around.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"golang.org/x/time/rate"
)

// Metric is one row of the system_metrics table.
type Metric struct {
	MetricName  string            `ch:"metric_name"`
	MetricValue float64           `ch:"metric_value"`
	Tags        map[string]string `ch:"tags"`
	Timestamp   time.Time         `ch:"timestamp"`
}

const schema = `
CREATE TABLE IF NOT EXISTS system_metrics (
	metric_name  String,
	metric_value Float64,
	tags         Map(String, String),
	timestamp    DateTime
) ENGINE = MergeTree()
ORDER BY (metric_name, timestamp)
`

const insertQuery = `INSERT INTO system_metrics (metric_name, metric_value, tags, timestamp)`

// Sink batches Metric rows and flushes them to ClickHouse, rate-limited the
// same way the teacher's BulkWriter throttles batch sends.
type Sink struct {
	conn      driver.Conn
	limiter   *rate.Limiter
	batchSize int
	buf       []Metric
}

// Open dials ClickHouse and ensures the system_metrics table exists.
func Open(ctx context.Context, addr, database, username, password string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: opening connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping failed: %w", err)
	}
	if err := conn.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("clickhouse: creating system_metrics table: %w", err)
	}
	return &Sink{
		conn:      conn,
		limiter:   rate.NewLimiter(rate.Limit(5), 1),
		batchSize: 500,
	}, nil
}

// NewWithConn wraps an already-open driver.Conn, for testing against a
// fake/mock conn that satisfies the driver.Conn interface.
func NewWithConn(conn driver.Conn, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sink{conn: conn, limiter: rate.NewLimiter(rate.Limit(5), 1), batchSize: batchSize}
}

// Record buffers one metric, flushing automatically once batchSize rows are
// queued.
func (s *Sink) Record(ctx context.Context, name string, value float64, tags map[string]string) error {
	s.buf = append(s.buf, Metric{MetricName: name, MetricValue: value, Tags: tags, Timestamp: time.Now()})
	if len(s.buf) >= s.batchSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends any buffered metrics as a single batch.
func (s *Sink) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("clickhouse: rate limiter wait: %w", err)
	}

	batch, err := s.conn.PrepareBatch(ctx, insertQuery)
	if err != nil {
		return fmt.Errorf("clickhouse: preparing batch: %w", err)
	}
	for _, m := range s.buf {
		if err := batch.AppendStruct(&m); err != nil {
			return fmt.Errorf("clickhouse: appending metric %s: %w", m.MetricName, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: sending batch: %w", err)
	}
	s.buf = s.buf[:0]
	return nil
}

// Close flushes any remainder and releases the connection.
func (s *Sink) Close(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	return s.conn.Close()
}
