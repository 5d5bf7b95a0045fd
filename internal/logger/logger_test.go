package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"info level", "info", zerolog.InfoLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"error level", "error", zerolog.ErrorLevel},
		{"invalid level", "chatty", zerolog.InfoLevel},
		{"default level", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetForTesting()
			var buf bytes.Buffer

			Setup(Config{
				Level:      tt.level,
				Output:     &buf,
				TimeFormat: time.RFC3339,
			})

			l := Get()
			require.NotNil(t, l)
			assert.Equal(t, tt.expected, l.GetLevel())
		})
	}
	ResetForTesting()
}

func TestParseLogFormat(t *testing.T) {
	assert.Equal(t, FormatConsole, ParseLogFormat("Console"))
	assert.Equal(t, FormatJSON, ParseLogFormat("json"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	ResetForTesting()
	Setup(Config{Level: "info", Format: FormatJSON, Output: &buf})
	defer ResetForTesting()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/progress?x=1", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rr := httptest.NewRecorder()

	HTTPMiddleware(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTeapot, rr.Code)
	out := buf.String()
	assert.Contains(t, out, `"method":"GET"`)
	assert.Contains(t, out, `"path":"/api/progress"`)
	assert.Contains(t, out, `"query":"x=1"`)
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"message":"HTTP request"`)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestHTTPMiddlewareRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	ResetForTesting()
	Setup(Config{Level: "info", Format: FormatJSON, Output: &buf})
	defer ResetForTesting()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Warn("Page session not found")
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/pages/abc", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()

	HTTPMiddleware(handler).ServeHTTP(rr, req)

	assert.Equal(t, "req-42", rr.Header().Get(RequestIDHeader))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, `"request_id":"req-42"`)
	}
	assert.Contains(t, lines[0], `"message":"Page session not found"`)
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: zerolog.New(&buf)}

	assert.Same(t, l, l.With(nil))

	child := l.Component("tracker").With(map[string]interface{}{"lesson": "lesson3"})
	child.Info("Lesson viewed", map[string]interface{}{"module": "basics"})

	out := buf.String()
	assert.Contains(t, out, `"component":"tracker"`)
	assert.Contains(t, out, `"lesson":"lesson3"`)
	assert.Contains(t, out, `"module":"basics"`)
	assert.Contains(t, out, `"message":"Lesson viewed"`)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("ignored")
		l.Warn("ignored", map[string]interface{}{"a": 1})
		l.Error("ignored")
		l.Debug("ignored", map[string]interface{}{"n": 1})
	})
	assert.Equal(t, zerolog.NoLevel, l.GetLevel())
}

func TestContextRoundTrip(t *testing.T) {
	l := Nop()
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.Equal(t, context.Background(), WithLogger(context.Background(), nil))
	assert.NotNil(t, FromContext(context.Background()))
}
