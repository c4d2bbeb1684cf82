package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetentionDays is how long rotated log files are kept.
const RetentionDays = 7

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides the console writer; nil means stdout.
	Console io.Writer
	NoColor bool
}

// Logger writes JSON records to a daily-rotated file and coloured lines to
// the console.
type Logger struct {
	config      Config
	level       slog.Level
	fileLogger  *slog.Logger
	textLogger  *slog.Logger
	logFile     *os.File
	currentDate string
	mu          sync.RWMutex
	ticker      *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// ParseLevel converts a configured level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger. An empty Dir disables the file sink.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		config:      cfg,
		level:       level,
		textLogger:  slog.New(&consoleHandler{writer: console, level: level, color: !cfg.NoColor}),
		fileLogger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}

	if cfg.Dir == "" {
		return l, nil
	}
	if cfg.Filename == "" {
		l.config.Filename = "imageconverter.log"
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(l.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.logFile = file
	l.fileLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))

	l.startRotationChecker()
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{
		level:      slog.LevelError + 1,
		fileLogger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		textLogger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		stopCh:     make(chan struct{}),
	}
}

func (l *Logger) logPath() string {
	return filepath.Join(l.config.Dir, l.config.Filename)
}

func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate(time.Now())
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate(now time.Time) {
	today := now.Format("2006-01-02")
	l.mu.RLock()
	same := today == l.currentDate
	l.mu.RUnlock()
	if same {
		return
	}
	l.rotate(today)
	l.cleanOldLogs(now)
}

// rotate renames the active file to <base>-<date><ext> and reopens it.
func (l *Logger) rotate(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
	}

	ext := filepath.Ext(l.config.Filename)
	base := strings.TrimSuffix(l.config.Filename, ext)
	archived := filepath.Join(l.config.Dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))
	if _, err := os.Stat(l.logPath()); err == nil {
		if err := os.Rename(l.logPath(), archived); err != nil {
			l.textLogger.Error("rename log file failed", slog.String("error", err.Error()))
		}
	}

	file, err := os.OpenFile(l.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.textLogger.Error("reopen log file failed", slog.String("error", err.Error()))
		l.logFile = nil
		l.fileLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		return
	}
	l.logFile = file
	l.currentDate = newDate
	l.fileLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.level}))
}

func (l *Logger) cleanOldLogs(now time.Time) {
	entries, err := os.ReadDir(l.config.Dir)
	if err != nil {
		return
	}

	cutoff := now.AddDate(0, 0, -RetentionDays)
	ext := filepath.Ext(l.config.Filename)
	prefix := strings.TrimSuffix(l.config.Filename, ext) + "-"

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext))
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.config.Dir, name)); err != nil {
			l.textLogger.Warn("remove old log failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

// Close stops rotation and closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		if l.ticker != nil {
			l.ticker.Stop()
		}
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.logFile != nil {
			err = l.logFile.Close()
			l.logFile = nil
		}
	})
	return err
}

func (l *Logger) log(level slog.Level, msg string, fields ...any) {
	if l == nil || level < l.level {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var attrs []slog.Attr
	if len(fields) > 0 && fields[0] != nil {
		if m, ok := fields[0].(map[string]any); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, slog.Any(k, m[k]))
			}
		} else {
			attrs = append(attrs, slog.Any("fields", fields[0]))
		}
	}

	ctx := context.Background()
	l.fileLogger.LogAttrs(ctx, level, msg, attrs...)
	l.textLogger.LogAttrs(ctx, level, msg, attrs...)
}

// emit accepts either printf-style arguments or a single fields map.
func (l *Logger) emit(level slog.Level, msg string, args ...any) {
	if len(args) > 0 && strings.Contains(msg, "%") {
		l.log(level, fmt.Sprintf(msg, args...))
		return
	}
	l.log(level, msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args...) }

func (l *Logger) Info(msg string, args ...any) { l.emit(slog.LevelInfo, msg, args...) }

func (l *Logger) Warn(msg string, args ...any) { l.emit(slog.LevelWarn, msg, args...) }

func (l *Logger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args...) }

// FormatLog prefixes message with a bracketed tag unless it already has one.
// FormatLog("BATCH", "started") -> "[BATCH] started"
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.emit(slog.LevelDebug, FormatLog(tag, msg), args...)
}

func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.emit(slog.LevelInfo, FormatLog(tag, msg), args...)
}

func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.emit(slog.LevelWarn, FormatLog(tag, msg), args...)
}

func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.emit(slog.LevelError, FormatLog(tag, msg), args...)
}

// Slog exposes the console logger for structured integrations.
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textLogger
}
