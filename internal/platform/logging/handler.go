package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

// tagColors maps message tags to the colour used on the console.
var tagColors = map[string]string{
	"[BOOT]":          "\x1b[96m",
	"[HTTP]":          "\x1b[95m",
	"[WS]":            "\x1b[92m",
	"[BATCH]":         "\x1b[94m",
	"[CONVERT]":       "\x1b[35m",
	"[ARCHIVE]":       "\x1b[34m",
	"[SESSION]":       "\x1b[97m",
	"[OBSERVABILITY]": "\x1b[90m",
}

// consoleHandler renders records as single coloured lines.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	color  bool
	mu     sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelStr, levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelStr, levelColor = "ERROR", colorError
	case r.Level >= slog.LevelWarn:
		levelStr, levelColor = "WARN", colorWarn
	case r.Level >= slog.LevelInfo:
		levelStr, levelColor = "INFO", colorInfo
	default:
		levelStr, levelColor = "DEBUG", colorDebug
	}

	msg := r.Message
	tagColor := ""
	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "]"); end > 0 {
			tagColor = tagColors[msg[:end+1]]
		}
	}

	var b strings.Builder
	if h.color {
		fmt.Fprintf(&b, "%s[%s]%s %s[%s]%s ", colorTime, timeStr, colorReset, levelColor, levelStr, colorReset)
		if tagColor != "" {
			fmt.Fprintf(&b, "%s%s%s", tagColor, msg, colorReset)
		} else {
			b.WriteString(msg)
		}
	} else {
		fmt.Fprintf(&b, "[%s] [%s] %s", timeStr, levelStr, msg)
	}

	if r.NumAttrs() > 0 {
		b.WriteString(" {")
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteByte('\n')

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *consoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *consoleHandler) WithGroup(string) slog.Handler { return h }
