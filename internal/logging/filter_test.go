package logging

import (
	"log/slog"
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		input      string
		wantGlobal slog.Level
		wantComps  map[string]slog.Level
	}{
		{"", slog.LevelInfo, nil},
		{"off", LevelOff, nil},
		{"debug", slog.LevelDebug, nil},
		{"info,scheduler=trace", slog.LevelInfo, map[string]slog.Level{"scheduler": LevelTrace}},
		{"warn, worker=off ,server=debug", slog.LevelWarn, map[string]slog.Level{"worker": LevelOff, "server": slog.LevelDebug}},
		{"debug,info", slog.LevelInfo, nil},
		{"scheduler=debug,scheduler=error", slog.LevelInfo, map[string]slog.Level{"scheduler": slog.LevelError}},
	}
	for _, tt := range tests {
		f, err := ParseFilter(tt.input)
		if err != nil {
			t.Errorf("ParseFilter(%q): %v", tt.input, err)
			continue
		}
		if f.Default != tt.wantGlobal {
			t.Errorf("ParseFilter(%q).Default = %v, want %v", tt.input, f.Default, tt.wantGlobal)
		}
		if len(f.Components) != len(tt.wantComps) {
			t.Errorf("ParseFilter(%q) components = %v, want %v", tt.input, f.Components, tt.wantComps)
			continue
		}
		for c, lvl := range tt.wantComps {
			if f.Components[c] != lvl {
				t.Errorf("ParseFilter(%q)[%s] = %v, want %v", tt.input, c, f.Components[c], lvl)
			}
		}
	}
}

func TestParseFilter_Invalid(t *testing.T) {
	for _, in := range []string{"scheduler", "loud", "=debug", "worker=loud"} {
		if _, err := ParseFilter(in); err == nil {
			t.Errorf("ParseFilter(%q) succeeded, want error", in)
		}
	}
}

func TestNewFilterLossy_FallsBack(t *testing.T) {
	f, err := NewFilterLossy("debug,worker=???")
	if err == nil {
		t.Fatal("expected parse error to be reported")
	}
	if f.Default != slog.LevelInfo || len(f.Components) != 0 {
		t.Errorf("fallback = %s, want %s", f, DefaultFilter)
	}
}

func TestFilter_Enabled(t *testing.T) {
	f, err := ParseFilter("warn,scheduler=trace,worker=off")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}

	tests := []struct {
		component string
		level     slog.Level
		want      bool
	}{
		{"", slog.LevelInfo, false},
		{"", slog.LevelWarn, true},
		{"scheduler", LevelTrace, true},
		{"worker", slog.LevelError, false},
		{"server", slog.LevelDebug, false},
	}
	for _, tt := range tests {
		if got := f.Enabled(tt.component, tt.level); got != tt.want {
			t.Errorf("Enabled(%q, %v) = %v, want %v", tt.component, tt.level, got, tt.want)
		}
	}
	if f.MinLevel() != LevelTrace {
		t.Errorf("MinLevel = %v, want trace", f.MinLevel())
	}
}

func TestFilter_String(t *testing.T) {
	f, err := ParseFilter("warn,worker=off,scheduler=trace")
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if got, want := f.String(), "warn,scheduler=trace,worker=off"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
