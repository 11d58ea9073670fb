// Package otel sets up the OpenTelemetry log and meter providers the server
// reports through.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoLogExporter is returned when OTel is enabled with neither a log writer nor an endpoint.
var ErrNoLogExporter = errors.New("otel enabled but no log writer or endpoint configured")

const defaultMetricInterval = 5 * time.Second

// Config holds OTel configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	BatchTimeout   time.Duration
	// MetricInterval is how often metrics are exported. Defaults to BatchTimeout, then 5s.
	MetricInterval time.Duration
	LogWriter      io.Writer // local log export, e.g. the run's log file
	MetricWriter   io.Writer // periodic metric dumps; metrics stay no-op when nil
	Endpoint       string    // OTLP/HTTP log endpoint
	Insecure       bool
}

// Provider holds the log and meter providers of one process.
type Provider struct {
	enabled bool
	logs    *sdklog.LoggerProvider
	metrics *sdkmetric.MeterProvider
}

// New builds the providers described by cfg. A disabled config yields a
// provider whose accessors return nil or no-op values. The meter provider,
// when created, is installed globally so otel.Meter picks it up.
func New(cfg Config) (*Provider, error) {
	p := &Provider{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if p.logs, err = newLogProvider(ctx, cfg, res); err != nil {
		return nil, err
	}

	if cfg.MetricWriter != nil {
		if p.metrics, err = newMeterProvider(cfg, res); err != nil {
			_ = p.logs.Shutdown(ctx)
			return nil, err
		}
		otel.SetMeterProvider(p.metrics)
	}

	return p, nil
}

func newLogProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	batch := func(e sdklog.Exporter) sdklog.LoggerProviderOption {
		return sdklog.WithProcessor(sdklog.NewBatchProcessor(e, sdklog.WithExportTimeout(cfg.BatchTimeout)))
	}

	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		opts = append(opts, batch(exp))
	}

	if cfg.Endpoint != "" {
		httpOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		opts = append(opts, batch(exp))
	}

	if len(opts) == 1 {
		return nil, ErrNoLogExporter
	}
	return sdklog.NewLoggerProvider(opts...), nil
}

func newMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.MetricWriter))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = cfg.BatchTimeout
	}
	if interval <= 0 {
		interval = defaultMetricInterval
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	), nil
}

// LoggerProvider returns the log provider for the otelslog bridge, or nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logs
}

// Meter returns a named meter, or a no-op meter when metrics are not exported.
func (p *Provider) Meter(name string) metric.Meter {
	if p.metrics == nil {
		return noop.Meter{}
	}
	return p.metrics.Meter(name)
}

// Enabled reports whether OTel was enabled in the config.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Flush exports everything pending.
func (p *Provider) Flush(ctx context.Context) error {
	return p.each(
		func() error { return p.logs.ForceFlush(ctx) },
		func() error { return p.metrics.ForceFlush(ctx) },
		"flush",
	)
}

// Shutdown flushes and stops both providers. Call once on exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.each(
		func() error { return p.logs.Shutdown(ctx) },
		func() error { return p.metrics.Shutdown(ctx) },
		"shutdown",
	)
}

func (p *Provider) each(logFn, metricFn func() error, op string) error {
	var errs []error
	if p.logs != nil {
		if err := logFn(); err != nil {
			errs = append(errs, fmt.Errorf("log %s failed: %w", op, err))
		}
	}
	if p.metrics != nil {
		if err := metricFn(); err != nil {
			errs = append(errs, fmt.Errorf("metric %s failed: %w", op, err))
		}
	}
	return errors.Join(errs...)
}
