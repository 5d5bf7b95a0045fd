// Package logger is the process-wide structured logger. It wraps zerolog so
// callers log with a message and an optional field map:
//
//	log := logger.Get().Component("tracker")
//	log.Info("Lesson completed", map[string]interface{}{"score": 90})
//
// Setup configures the global instance once at startup; ForceSetup replaces
// it when a command knows its output and level only after parsing flags.
// Components that are built without a logger fall back to Get, tests use Nop.
package logger

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

var (
	// globalLogger is the process-wide logger instance
	globalLogger *Logger
	once         sync.Once

	defaultConfig = Config{
		Level:      "info",
		Format:     FormatConsole,
		TimeFormat: time.RFC3339,
	}
)

// Logger is a zerolog.Logger with field-map helpers. A nil *Logger discards
// everything, so optional loggers need no guards at call sites.
type Logger struct {
	zerolog.Logger
	level zerolog.Level
}

// GetLevel returns the level the logger was set up with
func (l *Logger) GetLevel() zerolog.Level {
	if l == nil {
		return zerolog.NoLevel
	}
	return l.level
}

// LogFormat selects the output encoding
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatConsole LogFormat = "console"
)

func (f LogFormat) String() string {
	return string(f)
}

// ParseLogFormat maps a config value to a LogFormat. Anything but "console"
// is JSON.
func ParseLogFormat(format string) LogFormat {
	if strings.EqualFold(strings.TrimSpace(format), string(FormatConsole)) {
		return FormatConsole
	}
	return FormatJSON
}

// Config holds the configuration for the logger
type Config struct {
	// Level is a zerolog level name; unknown names mean info
	Level  string
	Format LogFormat
	// Output defaults to os.Stdout
	Output     io.Writer
	TimeFormat string
}

// Get returns the global logger, setting it up with the defaults on first use
func Get() *Logger {
	once.Do(func() {
		if globalLogger == nil {
			globalLogger = newLogger(defaultConfig)
		}
	})
	return globalLogger
}

// ResetForTesting drops the global logger so the next Setup takes effect
func ResetForTesting() {
	globalLogger = nil
	once = sync.Once{}
}

// Setup initializes the global logger. Only the first call has an effect.
func Setup(cfg Config) {
	once.Do(func() {
		globalLogger = newLogger(cfg)
	})
}

// ForceSetup replaces the global logger regardless of earlier setup
func ForceSetup(cfg Config) {
	once.Do(func() {})
	globalLogger = newLogger(cfg)
}

func newLogger(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger
	if cfg.Format == FormatConsole {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat})
	} else {
		zl = zerolog.New(output)
	}
	zl = zl.Level(level).With().Timestamp().Logger()

	l := &Logger{Logger: zl, level: level}
	l.Debug("Logger initialized", map[string]interface{}{
		"format": ParseLogFormat(string(cfg.Format)).String(),
		"level":  level.String(),
	})
	return l
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), level: zerolog.Disabled}
}

type loggerKey struct{}

// WithLogger returns ctx carrying l. A nil l leaves ctx unchanged.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
			return l
		}
	}
	return Get()
}

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// HTTPMiddleware tags every request with an id, stores a logger carrying it
// in the request context and logs the request once next returns. An id sent
// by the client is kept.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		l := Get().With(map[string]interface{}{"request_id": id})
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(WithLogger(r.Context(), l)))

		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			ip = r.RemoteAddr
		}
		l.Info("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"query":      r.URL.RawQuery,
			"ip":         ip,
			"user_agent": r.UserAgent(),
			"status":     sw.status,
			"duration":   time.Since(start).String(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// With returns a child logger carrying fields. On a nil receiver it derives
// from the global logger.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	if l == nil {
		l = Get()
	}
	if len(fields) == 0 {
		return l
	}
	return &Logger{Logger: l.Logger.With().Fields(fields).Logger(), level: l.level}
}

// Component tags the logger with the subsystem writing through it
func (l *Logger) Component(name string) *Logger {
	return l.With(map[string]interface{}{"component": name})
}

func (l *Logger) log(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, f := range fields {
		if len(f) > 0 {
			e = e.Fields(f)
		}
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.log(l.Logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.log(l.Logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.log(l.Logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	if l == nil {
		return
	}
	l.log(l.Logger.Error(), msg, fields)
}
