// Package zerolog adapts a zerolog.Logger to cache.Logger and builds
// loggers from a small level/format configuration.
package zerolog

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/rs/zerolog"
)

type ZerologLogger struct{ L zerolog.Logger }

var _ cache.Logger = ZerologLogger{}

func (z ZerologLogger) Debug(msg string, f cache.Fields) { withFields(z.L.Debug(), f).Msg(msg) }
func (z ZerologLogger) Info(msg string, f cache.Fields)  { withFields(z.L.Info(), f).Msg(msg) }
func (z ZerologLogger) Warn(msg string, f cache.Fields)  { withFields(z.L.Warn(), f).Msg(msg) }
func (z ZerologLogger) Error(msg string, f cache.Fields) { withFields(z.L.Error(), f).Msg(msg) }

func withFields(e *zerolog.Event, f cache.Fields) *zerolog.Event {
	if len(f) == 0 {
		return e
	}
	return e.Fields(map[string]any(f))
}

// Config selects the level and output format of NewLogger.
type Config struct {
	// Level is one of trace, debug, info, warn, error or disabled.
	// Default: info
	Level string `koanf:"level"`

	// Format is json or console. Default: json
	Format string `koanf:"format"`

	// Output defaults to os.Stderr.
	Output io.Writer `koanf:"-"`
}

// NewLogger builds a timestamped zerolog.Logger from cfg.
func NewLogger(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
