package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/chronoportal/server"

// Options configures SlogManager.Setup.
type Options struct {
	// Output receives text records. Nil means stdout.
	Output io.Writer
	Level  string
	// Provider bridges records into OpenTelemetry when non-nil.
	Provider *sdklog.LoggerProvider
	// Extra handlers (e.g. GELF) receive every record as well.
	Extra []slog.Handler
	// Context adds attributes evaluated when each record is written.
	Context ContextProvider
}

// SlogManager owns the process logger. The level can be changed after Setup.
type SlogManager struct {
	logger   *slog.Logger
	level    slog.LevelVar
	provider *sdklog.LoggerProvider
}

// NewSlogManager returns a manager whose Logger is slog.Default until Setup.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level.
// Anything else yields INFO and false.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// handlerOptions formats timestamps as UTC RFC 3339 and filters on leveler.
func handlerOptions(leveler slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: leveler,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key != slog.TimeKey {
				return a
			}
			if t, ok := a.Value.Any().(time.Time); ok {
				a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
			}
			return a
		},
	}
}

// Setup builds the logger. Calling it again replaces the previous logger.
func (m *SlogManager) Setup(opts Options) {
	lvl, ok := ParseLevel(opts.Level)
	m.level.Set(lvl)
	m.provider = opts.Provider

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlers := []slog.Handler{slog.NewTextHandler(out, handlerOptions(&m.level))}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(opts.Provider)))
	}
	handlers = append(handlers, opts.Extra...)

	var root slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		root = NewContextHandler(root, opts.Context)
	}
	m.logger = slog.New(root)

	if !ok && opts.Level != "" {
		m.logger.Warn("Unknown log level, using INFO", "level", opts.Level)
	}
	m.logger.Info("Logging initialized", "level", lvl.String())
}

// SetLevel changes the level of the text output. Unknown levels are ignored.
func (m *SlogManager) SetLevel(level string) bool {
	lvl, ok := ParseLevel(level)
	if ok {
		m.level.Set(lvl)
	}
	return ok
}

// Logger returns the configured logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Component returns a logger tagged with the component name.
func (m *SlogManager) Component(name string) *slog.Logger {
	return m.Logger().With("component", name)
}

// Flush forces buffered OTel records out.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}

// WriteLog logs data at the named level with the calling function attached.
// It is a no-op before Setup.
func (m *SlogManager) WriteLog(function, data, level string) {
	if m.logger == nil {
		return
	}
	lvl, _ := ParseLevel(level)
	m.logger.Log(context.Background(), lvl, data, "function", function)
}
