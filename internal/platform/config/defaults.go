package config

import "time"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:             "127.0.0.1",
			Port:           8080,
			StaticDir:      "./web",
			MaxUploadBytes: 64 << 20,
			AllowOrigins:   []string{"http://localhost:5173"},
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "imageconverter.log",
		},
		Convert: ConvertConfig{
			Format:           "webp",
			Quality:          80,
			MaxWidth:         1920,
			MaxHeight:        1080,
			MaxSourcePixels:  100_000_000,
			MaxSurfacePixels: 40_000_000,
			PrepassMaxBytes:  2 << 20,
		},
		Batch: BatchConfig{
			Workers:    0,
			SessionTTL: 30 * time.Minute,
		},
	}
}
