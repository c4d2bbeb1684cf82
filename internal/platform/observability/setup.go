package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config captures observability toggles.
type Config struct {
	Enabled bool
}

// ShutdownFunc tears down whatever Setup installed.
type ShutdownFunc func(context.Context) error

var (
	mu        sync.RWMutex
	sink      *slog.Logger
	sinkState Config
)

func current() (*slog.Logger, Config) {
	mu.RLock()
	defer mu.RUnlock()
	return sink, sinkState
}

// Setup routes spans and metrics to logger when cfg.Enabled is set.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	mu.Lock()
	sink = logger
	sinkState = cfg
	mu.Unlock()

	if logger != nil {
		if cfg.Enabled {
			logger.InfoContext(ctx, "[OBSERVABILITY] span and metric logging enabled")
		} else {
			logger.DebugContext(ctx, "[OBSERVABILITY] disabled")
		}
	}
	return func(context.Context) error {
		mu.Lock()
		sink = nil
		sinkState = Config{}
		mu.Unlock()
		return nil
	}, nil
}
