package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultSlowQueryThreshold is the duration above which queries are logged.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// QueryTracer implements pgx.QueryTracer. It logs failed and slow queries
// and keeps simple counters for the readiness endpoint.
type QueryTracer struct {
	threshold time.Duration
	logger    *zap.Logger
	now       func() time.Time

	total  atomic.Int64
	slow   atomic.Int64
	failed atomic.Int64
}

// NewQueryTracer creates a tracer that warns about queries slower than threshold.
func NewQueryTracer(threshold time.Duration, logger *zap.Logger) *QueryTracer {
	return &QueryTracer{
		threshold: threshold,
		logger:    logger.Named("query"),
		now:       time.Now,
	}
}

type traceKey struct{}

type traceData struct {
	start time.Time
	sql   string
}

// TraceQueryStart records the query start time.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceKey{}, traceData{start: t.now(), sql: data.SQL})
}

// TraceQueryEnd logs the query outcome.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	td, ok := ctx.Value(traceKey{}).(traceData)
	if !ok {
		return
	}
	duration := t.now().Sub(td.start)
	t.total.Add(1)

	switch {
	case data.Err != nil:
		t.failed.Add(1)
		t.logger.Error("query failed",
			zap.String("sql", truncateSQL(td.sql, 300)),
			zap.Duration("duration", duration),
			zap.Error(data.Err),
		)
	case duration >= t.threshold:
		t.slow.Add(1)
		t.logger.Warn("slow query",
			zap.String("sql", truncateSQL(td.sql, 300)),
			zap.Duration("duration", duration),
			zap.String("command_tag", data.CommandTag.String()),
		)
	}
}

// Stats returns total, slow and failed query counts.
func (t *QueryTracer) Stats() (total, slow, failed int64) {
	return t.total.Load(), t.slow.Load(), t.failed.Load()
}

func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen-3] + "..."
}
