package observability

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := current()
	return cfg.Enabled
}

// StartSpan logs the start of operation and returns a func that logs its end.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := current()
	if logger == nil || !cfg.Enabled {
		return ctx, func(error) {}
	}

	start := time.Now()
	spanID := uuid.NewString()[:8]
	logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
		slog.String("span", spanID),
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("span", spanID),
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// RecordMetric emits a best-effort datapoint through the configured logger.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger, cfg := current()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}
