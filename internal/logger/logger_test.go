package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{name: "production uses json", environment: "production", wantJSON: true},
		{name: "development uses pretty", environment: "development"},
		{name: "staging uses pretty", environment: "staging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: slog.LevelInfo, Environment: tt.environment, Writer: &buf})
			logger.Info("scan stored")

			if tt.wantJSON {
				assert.Contains(t, buf.String(), `"msg":"scan stored"`)
			} else {
				assert.Contains(t, buf.String(), "scan stored")
				assert.Contains(t, buf.String(), colorReset)
			}
		})
	}
}

func TestNew_ExplicitFormats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer

	New(Config{Format: FormatJSON, Environment: "development", Writer: &jsonBuf}).Info("hello")
	New(Config{Format: FormatText, Writer: &textBuf}).Info("hello", "user", "alice")

	assert.Contains(t, jsonBuf.String(), `"msg":"hello"`)
	assert.Contains(t, textBuf.String(), "msg=hello")
	assert.Contains(t, textBuf.String(), "user=alice")
	assert.NotContains(t, textBuf.String(), colorReset)
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Format: FormatJSON, Writer: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	assert.NotContains(t, buf.String(), "debug message")
	assert.NotContains(t, buf.String(), "info message")
	assert.Contains(t, buf.String(), "warn message")
	assert.Contains(t, buf.String(), "error message")
}

func TestNew_FileOutput(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "server.log")

	logger := New(Config{
		Level:  slog.LevelInfo,
		Format: FormatPretty,
		Writer: &console,
		File:   FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
	})
	logger.Info("watcher connected", "user", "alice")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, console.String(), "watcher connected")
	assert.Contains(t, string(data), "msg=\"watcher connected\"")
	assert.Contains(t, string(data), "user=alice")
	assert.NotContains(t, string(data), colorReset, "log files are never coloured")
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger := New(Config{Writer: &bytes.Buffer{}})
	assert.NoError(t, logger.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatJSON, Writer: &buf})

	logger.Component("registry").Info("watcher connected")
	Component(logger.Logger, "changefeed").Info("listening")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"component":"registry"`)
	assert.Contains(t, lines[1], `"component":"changefeed"`)
}

func TestLogger_WithErrorAndField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatJSON, Writer: &buf})

	logger.WithField("user", "bob").WithError(errors.New("socket closed")).Warn("delivery failed")

	assert.Contains(t, buf.String(), `"user":"bob"`)
	assert.Contains(t, buf.String(), `"error":"socket closed"`)
}

func TestPrettyHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("scan stored", "barcode", "4006381333931", "count", 2, "note", "two words")

	output := buf.String()
	assert.Contains(t, output, "INF")
	assert.Contains(t, output, "scan stored")
	assert.Contains(t, output, "barcode=4006381333931")
	assert.Contains(t, output, "count=2")
	assert.Contains(t, output, `note="two words"`)
}

func TestPrettyHandler_LevelFormatting(t *testing.T) {
	tests := []struct {
		level     slog.Level
		wantStr   string
		wantColor string
	}{
		{slog.LevelDebug, "DBG", colorMagenta},
		{slog.LevelInfo, "INF", colorGreen},
		{slog.LevelWarn, "WRN", colorYellow},
		{slog.LevelError, "ERR", colorRed},
	}

	for _, tt := range tests {
		t.Run(tt.wantStr, func(t *testing.T) {
			str, color := formatLevel(tt.level)
			assert.Equal(t, tt.wantStr, str)
			assert.Equal(t, tt.wantColor, color)
		})
	}
}

func TestPrettyHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewPrettyHandler(&buf, nil)

	assert.Equal(t, handler, handler.WithGroup(""))

	logger := slog.New(handler).With("component", "api").WithGroup("req").With("method", "POST")
	logger.Info("request", "path", "/scan/alice")

	output := buf.String()
	assert.Contains(t, output, "component=api")
	assert.Contains(t, output, "req.method=POST")
	assert.Contains(t, output, "req.path=/scan/alice")
}

func TestPrettyHandler_WithSource(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{AddSource: true}))
	logger.Info("test message")

	assert.Contains(t, buf.String(), "logger_test.go:")
}

func TestPrettyHandler_NoAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))
	logger.Info("simple message")

	parts := strings.SplitN(buf.String(), "simple message", 2)
	require.Len(t, parts, 2)
	assert.NotContains(t, parts[1], "=")
}

func TestFormatValue(t *testing.T) {
	now := time.Now()

	assert.Equal(t, "test", formatValue(slog.StringValue("test")))
	assert.Equal(t, now.Format(time.RFC3339), formatValue(slog.TimeValue(now)))
	assert.Equal(t, "5s", formatValue(slog.DurationValue(5*time.Second)))
	assert.Equal(t, "42", formatValue(slog.IntValue(42)))
}

func TestTeeHandler_RespectsEachLevel(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	tee := &teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	logger := slog.New(tee)

	assert.True(t, tee.Enabled(context.Background(), slog.LevelDebug))
	logger.Debug("noisy")
	logger.Warn("important")

	assert.Contains(t, debugBuf.String(), "noisy")
	assert.Contains(t, debugBuf.String(), "important")
	assert.NotContains(t, warnBuf.String(), "noisy")
	assert.Contains(t, warnBuf.String(), "important")
}
