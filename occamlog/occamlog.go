// Package occamlog provides the structured logger used by the Engine facade
// (the search driver and VB manager do not log). It wraps zerolog the way
// jhkimqd-chaos-utils/pkg/reporting does: a small Logger type over a
// configured zerolog.Logger, with leveled convenience methods and a
// WithFields child-logger constructor, rather than a bare global logger.
package occamlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config configures a Logger.
type Config struct {
	Level  string    // LevelDebug|LevelInfo|LevelWarn|LevelError, default LevelInfo
	Pretty bool      // human-readable console output instead of JSON
	Output io.Writer // default os.Stderr
}

// Logger is a structured, leveled logger for core diagnostics: the Engine
// logs each fit request, each search start, and a search that ends with an
// error (including cancellation).
type Logger struct {
	z zerolog.Logger
}

// New builds a Logger from cfg. A zero Config yields JSON output to stderr
// at info level, matching the teacher's NewLogger default.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: false}
	}

	z := zerolog.New(out).With().Timestamp().Logger()
	switch cfg.Level {
	case LevelDebug:
		z = z.Level(zerolog.DebugLevel)
	case LevelWarn:
		z = z.Level(zerolog.WarnLevel)
	case LevelError:
		z = z.Level(zerolog.ErrorLevel)
	default:
		z = z.Level(zerolog.InfoLevel)
	}

	return &Logger{z: z}
}

// Nop returns a Logger that discards everything, for tests and callers that
// do not want diagnostics.
func Nop() *Logger {
	return &Logger{z: zerolog.Nop()}
}

// Debug logs a debug-level message with key/value fields.
func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.log(l.z.Debug(), msg, fields) }

// Info logs an info-level message with key/value fields.
func (l *Logger) Info(msg string, fields map[string]interface{}) { l.log(l.z.Info(), msg, fields) }

// Warn logs a warning-level message with key/value fields.
func (l *Logger) Warn(msg string, fields map[string]interface{}) { l.log(l.z.Warn(), msg, fields) }

// Error logs an error-level message with key/value fields.
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.log(l.z.Error(), msg, fields) }

// WithFields returns a child Logger that always includes the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}

	return &Logger{z: ctx.Logger()}
}

func (l *Logger) log(event *zerolog.Event, msg string, fields map[string]interface{}) {
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
