// Command chronoserver runs a demo game on the temporal keyframe engine,
// advancing it from a wall-clock ticker and recording it to the configured
// storage backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chronoportal/server/internal/config"
	"github.com/chronoportal/server/internal/game"
	"github.com/chronoportal/server/internal/geo"
	"github.com/chronoportal/server/internal/influx"
	"github.com/chronoportal/server/internal/logging"
	"github.com/chronoportal/server/internal/monitor"
	intOtel "github.com/chronoportal/server/internal/otel"
	"github.com/chronoportal/server/internal/storage"
	"github.com/chronoportal/server/pkg/core"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.1.0"
	BuildDate      string = "unknown"

	ServiceName string = "chronoserver"
)

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":   "logLevel",
	"logs-dir":    "logsDir",
	"status-file": "statusFile",
	"storage":     "storage.type",
	"workers":     "engine.workers",
	"max-step":    "engine.maxStep",
	"tick-rate":   "engine.tickRate",
	"precision":   "engine.precision",
}

type options struct {
	configDir    string
	ticks        uint32
	reportEvery  uint32
	portalOrigin core.Coordinates
	portalDest   core.Coordinates
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chronoserver:", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet(ServiceName, pflag.ContinueOnError)
	flags.StringVar(&opts.configDir, "config-dir", ".", "directory holding "+config.ConfigFileName)
	flags.Uint32Var(&opts.ticks, "ticks", 0, "stop after this tick (0 runs until interrupted)")
	flags.Uint32Var(&opts.reportEvery, "report-every", 10, "log agent positions every N ticks (0 disables)")
	flags.String("log-level", "info", "DEBUG, INFO, WARN or ERROR")
	flags.String("logs-dir", "./logs", "directory for log files")
	flags.String("status-file", "", "write a JSON status snapshot here every statusInterval")
	flags.String("storage", "memory", "storage backend: memory, sqlite, postgres or none")
	flags.Int("workers", 4, "per-tick agent fan-out")
	flags.Uint32("max-step", 0, "most ticks one query may compute (0 is unlimited)")
	flags.Duration("tick-rate", 100*time.Millisecond, "wall-clock time between ticks")
	flags.String("precision", "f64", "f32 or f64")
	origin := flags.String("portal-origin", "1,1", "demo portal origin as x,y")
	dest := flags.String("portal-dest", "2,2", "demo portal destination as x,y")

	if err := flags.Parse(args); err != nil {
		return opts, err
	}

	var err error
	if opts.portalOrigin, err = geo.ParseCoordinates(*origin); err != nil {
		return opts, fmt.Errorf("--portal-origin %q: %w", *origin, err)
	}
	if opts.portalDest, err = geo.ParseCoordinates(*dest); err != nil {
		return opts, fmt.Errorf("--portal-dest %q: %w", *dest, err)
	}

	if _, err := os.Stat(filepath.Join(opts.configDir, config.ConfigFileName)); err == nil {
		if err := config.Load(opts.configDir); err != nil {
			return opts, err
		}
	} else {
		config.SetDefaults()
	}

	if err := config.BindFlags(flags, flagKeys); err != nil {
		return opts, err
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	level := viper.GetString("logLevel")
	logsDir := viper.GetString("logsDir")

	logFile, err := logging.OpenLogFile(logsDir, ServiceName, start)
	if err != nil {
		return err
	}
	defer logFile.Close()

	// OTel
	otelCfg := config.GetOTelConfig()
	var otelLogs, otelMetrics io.Writer
	if otelCfg.Enabled && otelCfg.Endpoint == "" {
		otelLogs = logFile
		otelMetrics = logFile
	}
	provider, err := intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		ServiceVersion: CurrentVersion,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      otelLogs,
		MetricWriter:   otelMetrics,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setting up OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	// slog, with optional Graylog shipping
	var extra []slog.Handler
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGELFHandler(gl.Address, level)
		if err != nil {
			return fmt.Errorf("connecting to graylog: %w", err)
		}
		defer closer.Close()
		extra = append(extra, h)
	}

	logs := logging.NewSlogManager()
	logs.Setup(logging.Options{
		Output:   io.MultiWriter(os.Stdout, logFile),
		Level:    level,
		Provider: provider.LoggerProvider(),
		Extra:    extra,
		Context: func() []slog.Attr {
			return []slog.Attr{slog.String("service", ServiceName), slog.String("version", CurrentVersion)}
		},
	})
	defer logs.Flush(context.Background())
	log := logs.Logger()
	log.Info("Starting up", "version", CurrentVersion, "buildDate", BuildDate)

	// zerolog for the database and influx managers
	zlog := logging.NewZerolog(io.MultiWriter(os.Stdout, logFile), level)

	// storage
	storageCfg := config.GetStorageConfig()
	backend, err := storage.NewBackend(storageCfg, storage.Dependencies{LogManager: logs, DBLog: zlog})
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing %s storage: %w", storageCfg.Type, err)
	}
	defer backend.Close()
	log.Info("Storage backend initialized", "type", storageCfg.Type)

	// influx
	metrics, err := connectInflux(ctx, zlog, logsDir)
	if err != nil {
		return err
	}
	if metrics != nil {
		defer metrics.Close()
	}

	srv, err := game.New(game.Dependencies{
		Engine:     config.GetEngineConfig(),
		Storage:    backend,
		Metrics:    metrics,
		LogManager: logs,
		Version:    CurrentVersion,
	})
	if err != nil {
		return err
	}
	defer srv.Close(context.Background())

	if path := viper.GetString("statusFile"); path != "" {
		mon := monitor.NewService(monitor.Dependencies{
			Source:     srv,
			LogManager: logs,
			StatusPath: path,
			Interval:   viper.GetDuration("statusInterval"),
		})
		if err := mon.Start(); err != nil {
			return err
		}
		defer mon.Stop()
	}

	if _, err := srv.StartGame(ctx, demoAgents()); err != nil {
		return err
	}
	p, err := srv.CreatePortal(ctx, demoPortal(opts.portalOrigin, opts.portalDest))
	if err != nil {
		return err
	}
	log.Info("Demo portal created", "id", p.ID, "scale", p.Compression.Scale, "duration", p.Compression.Duration)

	err = runLoop(ctx, srv, log, loopConfig{
		tickRate:    config.GetEngineConfig().TickRate,
		until:       opts.ticks,
		reportEvery: opts.reportEvery,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	reportPaths(log, srv)

	if err := srv.EndGame(context.Background()); err != nil {
		return err
	}
	if ex, ok := backend.(storage.Exportable); ok && ex.ExportedFilePath() != "" {
		log.Info("Game recorded", "path", ex.ExportedFilePath())
	}
	log.Info("Shutting down", "uptime", time.Since(start).Round(time.Millisecond))
	return nil
}

// connectInflux returns nil when InfluxDB export is disabled.
func connectInflux(ctx context.Context, zlog zerolog.Logger, logsDir string) (*influx.Manager, error) {
	m := influx.NewManager(config.GetInfluxConfig(), zlog, filepath.Join(logsDir, "influx_backup.lp.gz"))
	err := m.Connect(ctx)
	if errors.Is(err, influx.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to influx: %w", err)
	}
	return m, nil
}
