package observ

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig controls the process-wide event logger.
type LogConfig struct {
	Level  string    // debug, info, warn, error
	Pretty bool      // console output instead of JSON lines
	Output io.Writer // defaults to stdout
}

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

var (
	logMu  sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init replaces the event logger. Safe to call more than once (tests do).
func Init(cfg LogConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	logMu.Lock()
	logger = l
	logMu.Unlock()
	return l
}

// Logger returns a child logger tagged with the component name.
func Logger(component string) zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.With().Str("component", component).Logger()
}

// Log writes one structured line for a named event.
func Log(event string, kv map[string]any) {
	emit(zerolog.InfoLevel, event, nil, kv)
}

// Warn is Log at warn level.
func Warn(event string, kv map[string]any) {
	emit(zerolog.WarnLevel, event, nil, kv)
}

// Error logs an event together with the error that caused it.
func Error(event string, err error, kv map[string]any) {
	emit(zerolog.ErrorLevel, event, err, kv)
}

func emit(level zerolog.Level, event string, err error, kv map[string]any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()

	e := l.WithLevel(level)
	if e == nil {
		return
	}
	if err != nil {
		e = e.Err(err)
	}
	e.Str("event", event).Fields(kv).Send()
}
