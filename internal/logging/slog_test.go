package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   slog.Level
		wantOK bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" Warn ", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Same(t, slog.Default(), m.Logger())
	assert.NoError(t, m.Flush(context.Background()))
	// no logger yet, must not panic
	m.WriteLog("advance", "ignored", "info")
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &buf, Level: "warn"})

	m.Logger().Info("tick computed")
	m.Logger().Warn("store large", "keyframes", 100000)

	assert.NotContains(t, buf.String(), "tick computed")
	assert.Contains(t, buf.String(), "store large")
	assert.Contains(t, buf.String(), "keyframes=100000")
}

func TestSetup_UnknownLevelWarns(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &buf, Level: "chatty"})

	assert.Contains(t, buf.String(), "Unknown log level")
	assert.Contains(t, buf.String(), "level=INFO")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &buf, Level: "info"})

	m.Logger().Debug("hidden")
	require.True(t, m.SetLevel("debug"))
	m.Logger().Debug("visible")
	assert.False(t, m.SetLevel("loud"))
	m.Logger().Debug("still visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "still visible")
}

func TestSetup_ReplacesLogger(t *testing.T) {
	var first, second bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &first, Level: "info"})
	m.Setup(Options{Output: &second, Level: "info"})

	m.Logger().Info("after restart")
	assert.NotContains(t, first.String(), "after restart")
	assert.Contains(t, second.String(), "after restart")
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &buf})

	m.Component("stepper").Info("advancing", "to", 12)
	assert.Contains(t, buf.String(), "component=stepper")
	assert.Contains(t, buf.String(), "to=12")
}

func TestWriteLog(t *testing.T) {
	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		t.Run(level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(Options{Output: &buf, Level: "debug"})

			m.WriteLog("flush", "wrote batch", level)
			assert.Contains(t, buf.String(), "level="+level)
			assert.Contains(t, buf.String(), "function=flush")
		})
	}
}

func TestSetup_ContextAndExtra(t *testing.T) {
	var text, extra bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{
		Output:  &text,
		Extra:   []slog.Handler{slog.NewJSONHandler(&extra, nil)},
		Context: func() []slog.Attr { return []slog.Attr{slog.String("service", "chronoserver")} },
	})

	m.Logger().Info("portal created")
	assert.Contains(t, text.String(), "service=chronoserver")
	assert.Contains(t, extra.String(), `"msg":"portal created"`)
	assert.Contains(t, extra.String(), `"service":"chronoserver"`)
}

func TestSetup_OTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Output: &buf, Provider: provider})

	m.Logger().Info("bridged")
	assert.Contains(t, buf.String(), "bridged")
	assert.NoError(t, m.Flush(context.Background()))
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("graylog unreachable")
}

func TestMultiHandler(t *testing.T) {
	var info, debug bytes.Buffer
	infoH := slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugH := slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug})

	multi := NewMultiHandler(nil, infoH, debugH, nil)
	require.Len(t, multi.handlers, 2)
	assert.True(t, multi.Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewMultiHandler(infoH).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))

	log := slog.New(multi).With("game", 3).WithGroup("agent")
	log.Debug("moved", "id", 1)
	log.Info("spawned", "id", 2)

	assert.NotContains(t, info.String(), "moved")
	assert.Contains(t, info.String(), "game=3 agent.id=2")
	assert.Contains(t, debug.String(), "agent.id=1")
	assert.Same(t, multi, multi.WithGroup(""))
}

func TestMultiHandler_FailureDoesNotStopOthers(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(failingHandler{}, slog.NewTextHandler(&buf, nil))

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "delivered", 0)
	err := multi.Handle(context.Background(), r)
	assert.ErrorContains(t, err, "graylog unreachable")
	assert.Contains(t, buf.String(), "delivered")
}
