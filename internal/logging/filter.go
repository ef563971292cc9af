package logging

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// DefaultFilter is used when no filter is given or the given one is invalid.
const DefaultFilter = "info"

// Filter selects the minimum level per component.
type Filter struct {
	// Default applies to components without their own directive.
	Default    slog.Level
	Components map[string]slog.Level
}

// ParseFilter parses a comma-separated list of directives:
//
//   - "off", "error", "warn", "info", "debug" or "trace" sets the global level
//   - "scheduler=trace" sets the level for one component
//
// Directives are applied left to right, later ones win. For example
// "warn,scheduler=debug,worker=off" shows warnings and above, debug output
// from the scheduler and nothing from workers. An empty string is
// DefaultFilter.
func ParseFilter(s string) (Filter, error) {
	f := Filter{Default: slog.LevelInfo, Components: map[string]slog.Level{}}
	if strings.TrimSpace(s) == "" {
		return f, nil
	}

	for _, directive := range strings.Split(s, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}

		component, levelStr, scoped := strings.Cut(directive, "=")
		if !scoped {
			lvl, ok := lookupLevel(directive)
			if !ok {
				return Filter{}, fmt.Errorf("invalid log directive %q: unknown level", directive)
			}
			f.Default = lvl
			continue
		}

		component = strings.TrimSpace(component)
		if component == "" {
			return Filter{}, fmt.Errorf("invalid log directive %q: empty component", directive)
		}
		lvl, ok := lookupLevel(levelStr)
		if !ok {
			return Filter{}, fmt.Errorf("invalid log directive %q: unknown level %q", directive, levelStr)
		}
		f.Components[component] = lvl
	}
	return f, nil
}

// NewFilterLossy parses s and falls back to DefaultFilter when s is invalid.
// The parse error, if any, is returned alongside the fallback.
func NewFilterLossy(s string) (Filter, error) {
	f, err := ParseFilter(s)
	if err != nil {
		fallback, _ := ParseFilter(DefaultFilter)
		return fallback, err
	}
	return f, nil
}

// Level returns the minimum level for component.
func (f Filter) Level(component string) slog.Level {
	if lvl, ok := f.Components[component]; ok {
		return lvl
	}
	return f.Default
}

// Enabled reports whether a record at level from component passes.
func (f Filter) Enabled(component string, level slog.Level) bool {
	return level >= f.Level(component)
}

// MinLevel returns the most verbose level any component can log at.
func (f Filter) MinLevel() slog.Level {
	lowest := f.Default
	for _, lvl := range f.Components {
		lowest = min(lowest, lvl)
	}
	return lowest
}

// String renders f back into directive form.
func (f Filter) String() string {
	parts := []string{levelName(f.Default)}
	for _, c := range slices.Sorted(maps.Keys(f.Components)) {
		parts = append(parts, c+"="+levelName(f.Components[c]))
	}
	return strings.Join(parts, ",")
}

func levelName(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelOff:
		return "off"
	default:
		return strings.ToLower(l.String())
	}
}
