package obs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stdout).With().Timestamp().Str("service", "disbursa").Logger()
)

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}

// SetLogger replaces the shared logger.
func SetLogger(l zerolog.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Configure builds the shared logger from a level name and output format.
// Format "console" writes human-readable lines to w; anything else writes JSON.
func Configure(w io.Writer, level, format, version string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().
		Str("service", "disbursa").
		Str("version", version).
		Logger()
	SetLogger(l)
	return l
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}
