// Package logging builds the zerolog logger used across pana.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/domain"
)

// Config holds logger configuration.
type Config struct {
	Level  string    // debug, info, warn, error
	Pretty bool      // human-readable console output
	Output io.Writer // defaults to os.Stderr
}

// DefaultConfig returns the daemon's logging defaults.
func DefaultConfig() Config {
	return Config{Level: "info", Output: os.Stderr}
}

// New returns a logger for cfg.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel parses a level name (case-insensitive). Unknown names give info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Observer logs every observer event. Stream fragments go to trace level.
type Observer struct {
	log zerolog.Logger
}

// NewObserver wraps log as a domain.Observer.
func NewObserver(log zerolog.Logger) *Observer {
	return &Observer{log: log.With().Str("component", "events").Logger()}
}

// Notify implements domain.Observer.
func (o *Observer) Notify(ev domain.Event) {
	switch ev.Kind {
	case domain.EventError:
		o.log.Warn().Str("kind", string(ev.Kind)).Msg(ev.Message)
	case domain.EventStream:
		o.log.Trace().Str("run", ev.RunID).Int("len", len(ev.Text)).Msg("fragment")
	case domain.EventStreamEnd:
		o.log.Debug().Str("run", ev.RunID).Bool("cancelled", ev.Cancelled).Msg("stream end")
	case domain.EventProgress:
		if p := ev.Progress; p != nil {
			o.log.Debug().Str("model", p.Model).Int64("downloaded", p.Downloaded).
				Int64("total", p.Total).Float64("percent", p.Percent).Msg("progress")
		}
	case domain.EventHistory:
		o.log.Debug().Int("entries", len(ev.History)).Msg("history pushed")
	default:
		o.log.Info().Str("kind", string(ev.Kind)).Msg(ev.Message)
	}
}
