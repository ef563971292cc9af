package logging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrAlreadyInitialized is returned by Install after the first call.
var ErrAlreadyInitialized = errors.New("logging: already initialized")

var installOnce sync.Once

// Setup builds a logger that applies filter per component and writes
// format-encoded records through a Console draining into out. An invalid
// filter falls back to DefaultFilter; the fallback is reported as a warning
// on the returned logger.
func Setup(filter, format string, out io.Writer) (*slog.Logger, *Console) {
	f, parseErr := NewFilterLossy(filter)
	console := NewConsole(out)
	inner := newHandler(console, format, f.MinLevel())
	logger := slog.New(NewFilterHandler(inner, f, console.Flush))

	if parseErr != nil {
		logger.Warn("invalid log filter, using default",
			"filter", filter,
			"default", DefaultFilter,
			"error", parseErr,
		)
	}
	return logger, console
}

// Install makes logger the process-wide default. It may only be called
// once; later calls return ErrAlreadyInitialized.
func Install(logger *slog.Logger) error {
	err := ErrAlreadyInitialized
	installOnce.Do(func() {
		slog.SetDefault(logger)
		err = nil
	})
	return err
}
