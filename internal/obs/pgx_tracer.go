package obs

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// PGXTracer is a pgx.QueryTracer that opens a client span per statement and
// logs statements slower than SlowQuery.
type PGXTracer struct {
	SlowQuery time.Duration
	Log       zerolog.Logger
}

var _ pgx.QueryTracer = PGXTracer{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := statementVerb(data.SQL)
	sql := compactSQL(data.SQL)
	ctx, span := otel.Tracer("flora/store").Start(ctx, "pg "+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.DBSystemPostgreSQL,
		semconv.DBOperationName(op),
		semconv.DBQueryText(sql),
	)
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: sql})
}

func (t PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()

	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok || t.SlowQuery <= 0 {
		return
	}
	if elapsed := time.Since(start.at); elapsed >= t.SlowQuery {
		t.Log.Warn().Dur("elapsed", elapsed).Str("statement", start.sql).Msg("slow_query")
	}
}

func statementVerb(sql string) string {
	if fields := strings.Fields(sql); len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	return "QUERY"
}

// compactSQL collapses whitespace and caps the statement at 300 bytes.
func compactSQL(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
