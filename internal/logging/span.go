package logging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Span represents a logical unit of work tied to a request trace.
type Span struct {
	name   string
	logger zerolog.Logger
	start  time.Time
}

// StartSpan derives a child span from the provided context, enriching the logger
// with tracing metadata. It returns the derived context and the span handle.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	fields := FromContext(ctx).With()

	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
		fields = fields.Str("trace_id", traceID)
	}

	spanID := uuid.NewString()
	fields = fields.Str("span_id", spanID).Str("span_name", name)
	if parent := SpanIDFromContext(ctx); parent != "" {
		fields = fields.Str("parent_span_id", parent)
	}

	logger := fields.Logger()
	ctx = WithLogger(ctx, logger)
	ctx = WithSpanID(ctx, spanID)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// End finalizes the span and emits a completion log entry.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.logger.Debug().Dur("duration", time.Since(s.start)).Msg("span completed")
}
