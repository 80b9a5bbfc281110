package agent

import (
	"context"
	"log/slog"
	"time"
)

// Tracer records per-attempt execution spans. It is an optional
// collaborator: failures inside a tracer are swallowed so they can never
// abort agent execution.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]interface{}) Span
}

// Span is one recorded unit of work
type Span interface {
	End(err error)
}

// LogTracer is the degraded tracing mode: spans become log entries.
type LogTracer struct {
	logger *slog.Logger
}

// NewLogTracer creates a tracer that writes spans to the logger
func NewLogTracer(logger *slog.Logger) *LogTracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracer{logger: logger}
}

// StartSpan logs the span start and returns a span that logs its end.
func (t *LogTracer) StartSpan(ctx context.Context, name string, attrs map[string]interface{}) Span {
	args := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	t.logger.Debug("span started", append([]any{"span", name}, args...)...)
	return &logSpan{logger: t.logger, name: name, start: time.Now()}
}

type logSpan struct {
	logger *slog.Logger
	name   string
	start  time.Time
}

func (s *logSpan) End(err error) {
	if err != nil {
		s.logger.Debug("span failed", "span", s.name, "duration", time.Since(s.start), "error", err)
		return
	}
	s.logger.Debug("span ended", "span", s.name, "duration", time.Since(s.start))
}

// NoopTracer discards all spans
type NoopTracer struct{}

// StartSpan returns a span that does nothing.
func (NoopTracer) StartSpan(context.Context, string, map[string]interface{}) Span {
	return noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
