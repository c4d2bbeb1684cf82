package config

import "time"

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Convert ConvertConfig `yaml:"convert" mapstructure:"convert"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
}

type ServerConfig struct {
	IP             string   `yaml:"ip" mapstructure:"ip"`
	Port           int      `yaml:"port" mapstructure:"port"`
	StaticDir      string   `yaml:"static_dir" mapstructure:"static_dir"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	AllowOrigins   []string `yaml:"allow_origins" mapstructure:"allow_origins"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

// ConvertConfig holds the per-image conversion limits.
type ConvertConfig struct {
	Format    string `yaml:"format" mapstructure:"format"`
	Quality   int    `yaml:"quality" mapstructure:"quality"`
	MaxWidth  int    `yaml:"max_width" mapstructure:"max_width"`
	MaxHeight int    `yaml:"max_height" mapstructure:"max_height"`

	MaxSourcePixels  int64 `yaml:"max_source_pixels" mapstructure:"max_source_pixels"`
	MaxSurfacePixels int64 `yaml:"max_surface_pixels" mapstructure:"max_surface_pixels"`
	PrepassMaxBytes  int64 `yaml:"prepass_max_bytes" mapstructure:"prepass_max_bytes"`
}

// BatchConfig controls the worker pool and in-memory sessions.
type BatchConfig struct {
	// Workers caps concurrent conversions; 0 means one per logical CPU.
	Workers    int           `yaml:"workers" mapstructure:"workers"`
	SessionTTL time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
}
