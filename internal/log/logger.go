package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is what every tonlite component takes.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)

	With(keyvals ...any) Logger
}

type zlogger struct {
	zerolog.Logger
}

// New returns a Logger writing JSON lines to w at the given level.
func New(w io.Writer, level zerolog.Level) Logger {
	return &zlogger{Logger: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewConsole is New with human readable output.
func NewConsole(w io.Writer, level zerolog.Level) Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return New(cw, level)
}

// NewFromEnv builds a console logger whose level comes from TONLITE_LOG_LEVEL.
// TONLITE_DEBUG=1 forces debug.
func NewFromEnv(w io.Writer) Logger {
	return NewConsole(w, LevelFromEnv())
}

func LevelFromEnv() zerolog.Level {
	if os.Getenv("TONLITE_DEBUG") == "1" {
		return zerolog.DebugLevel
	}
	return ParseLevel(os.Getenv("TONLITE_LOG_LEVEL"))
}

// ParseLevel maps debug|info|error|off to a zerolog level. Unknown values mean info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "none", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func NewNopLogger() Logger {
	return &zlogger{Logger: zerolog.Nop()}
}

func (l *zlogger) Debug(msg string, keyvals ...any) {
	l.Logger.Debug().Fields(fields(keyvals)).Msg(msg)
}

func (l *zlogger) Info(msg string, keyvals ...any) {
	l.Logger.Info().Fields(fields(keyvals)).Msg(msg)
}

func (l *zlogger) Error(msg string, keyvals ...any) {
	e := l.Logger.Error()
	rest := keyvals[:0:0]
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			rest = append(rest, keyvals[i])
			break
		}
		if k, ok := keyvals[i].(string); ok && k == "err" {
			if err, ok := keyvals[i+1].(error); ok {
				e = e.Err(err)
				continue
			}
		}
		rest = append(rest, keyvals[i], keyvals[i+1])
	}
	e.Fields(fields(rest)).Msg(msg)
}

func (l *zlogger) With(keyvals ...any) Logger {
	return &zlogger{Logger: l.Logger.With().Fields(fields(keyvals)).Logger()}
}

func fields(keyvals []any) map[string]any {
	if len(keyvals) == 0 {
		return nil
	}
	out := make(map[string]any, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = "!badkey"
		}
		if i+1 >= len(keyvals) {
			out[key] = "(MISSING)"
			break
		}
		val := keyvals[i+1]
		if err, ok := val.(error); ok && err != nil {
			val = err.Error()
		}
		out[key] = val
	}
	return out
}

// RateLimited drops messages for the same key logged within interval of the previous one.
type RateLimited struct {
	Logger
	interval time.Duration

	mu    sync.Mutex
	last  map[string]time.Time
	sweep time.Time
}

func NewRateLimited(l Logger, interval time.Duration) *RateLimited {
	return &RateLimited{Logger: l, interval: interval, last: make(map[string]time.Time), sweep: time.Now()}
}

func (r *RateLimited) Debugk(key, msg string, keyvals ...any) {
	if r.allow(key) {
		r.Logger.Debug(msg, keyvals...)
	}
}

func (r *RateLimited) allow(key string) bool {
	if key == "" {
		return true
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.last[key]) < r.interval {
		return false
	}
	r.last[key] = now
	if now.Sub(r.sweep) > 2*r.interval {
		for k, ts := range r.last {
			if now.Sub(ts) > 4*r.interval {
				delete(r.last, k)
			}
		}
		r.sweep = now
	}
	return true
}
