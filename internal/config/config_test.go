package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threadpool.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Capacity < 1 {
		t.Errorf("Capacity = %d, want >= 1", cfg.Capacity)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
capacity: 3
log:
  filter: "warn,scheduler=trace"
server:
  task_timeout: 1m30s
  max_memory_pages: 64
store:
  path: ":memory:"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capacity != 3 {
		t.Errorf("Capacity = %d, want 3", cfg.Capacity)
	}
	if cfg.Log.Filter != "warn,scheduler=trace" {
		t.Errorf("Log.Filter = %q", cfg.Log.Filter)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want default text", cfg.Log.Format)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want default :8080", cfg.Server.Addr)
	}
	if cfg.Server.TaskTimeout != 90*time.Second {
		t.Errorf("Server.TaskTimeout = %s, want 1m30s", cfg.Server.TaskTimeout)
	}
	if cfg.Server.MaxMemoryPages != 64 {
		t.Errorf("Server.MaxMemoryPages = %d, want 64", cfg.Server.MaxMemoryPages)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("empty file = %+v, want defaults", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "workers: 4\n", "field workers not found"},
		{"zero capacity", "capacity: 0\n", "capacity"},
		{"bad format", "log:\n  format: xml\n", "log format"},
		{"bad filter", "log:\n  filter: \"scheduler=loud\"\n", "log filter"},
		{"empty addr", "server:\n  addr: \"\"\n", "addr"},
		{"negative timeout", "server:\n  task_timeout: -1s\n", "task_timeout"},
		{"zero memory pages", "server:\n  max_memory_pages: 0\n", "max_memory_pages"},
		{"too many memory pages", "server:\n  max_memory_pages: 65537\n", "max_memory_pages"},
		{"not yaml", "capacity: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
