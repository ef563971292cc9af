// Package config loads threadpool settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/threadpool/internal/logging"
	"github.com/me/threadpool/pkg/artifact"
)

// DefaultMaxMemoryPages caps the memory a single API task may request
// (1 MiB).
const DefaultMaxMemoryPages = 16

// Config holds everything needed to run a pool.
type Config struct {
	Capacity int          `yaml:"capacity"`
	Log      LogConfig    `yaml:"log"`
	Server   ServerConfig `yaml:"server"`
	Store    StoreConfig  `yaml:"store"`
}

// LogConfig selects log verbosity and output format.
type LogConfig struct {
	Filter string `yaml:"filter"` // e.g. "info,scheduler=debug"
	Format string `yaml:"format"` // text or json
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`             // Listen address (default ":8080")
	TaskTimeout    time.Duration `yaml:"task_timeout"`     // Interrupt scripts running longer; 0 disables
	MaxMemoryPages int           `yaml:"max_memory_pages"` // Largest memory a task may request, in 64 KiB pages
}

// StoreConfig configures module persistence.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite path; empty or ":memory:" keeps data in memory
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Capacity: runtime.NumCPU(),
		Log: LogConfig{
			Filter: logging.DefaultFilter,
			Format: "text",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			TaskTimeout:    30 * time.Second,
			MaxMemoryPages: DefaultMaxMemoryPages,
		},
	}
}

// Load reads path and overlays it on Default. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	if _, err := logging.ParseFilter(c.Log.Filter); err != nil {
		return fmt.Errorf("log filter: %w", err)
	}
	if c.Server.Addr == "" {
		return errors.New("server addr must not be empty")
	}
	if c.Server.TaskTimeout < 0 {
		return fmt.Errorf("server task_timeout must not be negative, got %s", c.Server.TaskTimeout)
	}
	if c.Server.MaxMemoryPages < 1 || c.Server.MaxMemoryPages > artifact.MaxPages {
		return fmt.Errorf("server max_memory_pages must be between 1 and %d, got %d",
			artifact.MaxPages, c.Server.MaxMemoryPages)
	}
	return nil
}
