package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit path is configured.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMGCONV_"

// Loader resolves configuration from defaults, a YAML file and the environment.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading config.yaml (or $IMGCONV_CONFIG).
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the YAML file location.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnv overrides environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load merges defaults, the YAML file (if present) and environment overrides.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// A missing .env is normal outside development.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	path := l.path
	if path == "" {
		if v, ok := l.lookupEnv(EnvPrefix + "CONFIG"); ok && v != "" {
			path = v
		} else {
			path = DefaultPath
		}
	}

	origin := "defaults"
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		origin = path
	case os.IsNotExist(err) && l.path == "":
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: origin}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := l.lookupEnv(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("SERVER_IP", &cfg.Server.IP)
	str("STATIC_DIR", &cfg.Server.StaticDir)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_DIR", &cfg.Log.Dir)
	str("FORMAT", &cfg.Convert.Format)

	for key, dst := range map[string]*int{
		"SERVER_PORT": &cfg.Server.Port,
		"QUALITY":     &cfg.Convert.Quality,
		"MAX_WIDTH":   &cfg.Convert.MaxWidth,
		"MAX_HEIGHT":  &cfg.Convert.MaxHeight,
		"WORKERS":     &cfg.Batch.Workers,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := l.lookupEnv(EnvPrefix + "SESSION_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("env %sSESSION_TTL: %w", EnvPrefix, err)
		}
		cfg.Batch.SessionTTL = ttl
	}
	return nil
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Convert.Quality < 1 || cfg.Convert.Quality > 100 {
		return fmt.Errorf("invalid default quality: %d", cfg.Convert.Quality)
	}
	if cfg.Convert.MaxWidth <= 0 || cfg.Convert.MaxHeight <= 0 {
		return fmt.Errorf("invalid default bounds: %dx%d", cfg.Convert.MaxWidth, cfg.Convert.MaxHeight)
	}
	if cfg.Convert.PrepassMaxBytes <= 0 {
		return fmt.Errorf("prepass_max_bytes must be positive")
	}
	if cfg.Batch.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d", cfg.Batch.Workers)
	}
	return nil
}
