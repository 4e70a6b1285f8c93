package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// New builds the service logger for env.
// In Kubernetes, prod and dev it writes JSON for log aggregation, locally it
// writes coloured text. Either way trace_id/span_id are added when the
// context carries an OTel span.
func New(env string, w io.Writer) *slog.Logger {
	inK8s := os.Getenv("KUBERNETES_SERVICE_HOST") != ""
	useJSON := inK8s || env == "prod" || env == "dev"

	var handler slog.Handler
	if useJSON {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     levelFromEnv(slog.LevelInfo),
			AddSource: true,
		})
	} else {
		handler = newColorTextHandler(w, &slog.HandlerOptions{
			Level: levelFromEnv(slog.LevelDebug),
		})
	}
	return slog.New(newTraceContextHandler(handler))
}

func NewWithServiceContext(serviceName, version, env string) *slog.Logger {
	return New(env, os.Stdout).With(
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("environment", env),
	)
}

// levelFromEnv reads LOG_LEVEL (debug, info, warn, error).
func levelFromEnv(fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}

// colorTextHandler highlights WARN in yellow and ERROR in red.
type colorTextHandler struct {
	handler slog.Handler
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	return &colorTextHandler{
		handler: slog.NewTextHandler(w, opts),
	}
}

func (h *colorTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *colorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var color string
	switch {
	case r.Level >= slog.LevelError:
		color = colorRed
	case r.Level >= slog.LevelWarn:
		color = colorYellow
	default:
		return h.handler.Handle(ctx, r)
	}

	colored := slog.NewRecord(r.Time, r.Level, fmt.Sprintf("%s%s%s", color, r.Message, colorReset), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		colored.AddAttrs(a)
		return true
	})
	return h.handler.Handle(ctx, colored)
}

func (h *colorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorTextHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *colorTextHandler) WithGroup(name string) slog.Handler {
	return &colorTextHandler{handler: h.handler.WithGroup(name)}
}

// traceContextHandler adds trace_id and span_id from the OTel span in ctx.
type traceContextHandler struct {
	handler slog.Handler
}

func newTraceContextHandler(h slog.Handler) *traceContextHandler {
	return &traceContextHandler{handler: h}
}

func (h *traceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	return h.handler.Handle(ctx, r)
}

func (h *traceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceContextHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *traceContextHandler) WithGroup(name string) slog.Handler {
	return &traceContextHandler{handler: h.handler.WithGroup(name)}
}
