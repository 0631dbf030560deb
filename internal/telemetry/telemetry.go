// Package telemetry initializes OpenTelemetry providers for metric and log
// export over OTLP HTTP.
//
// Enabled by setting at least one of:
//
//	MEDIC_OTEL_METRICS_URL  (default: http://localhost:4318/v1/metrics)
//	MEDIC_OTEL_LOGS_URL     (default: http://localhost:4318/v1/logs)
//
// Export is best-effort: the daemon logs Init errors and keeps running, and
// recorders fall back to the OTel no-op providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EnvMetricsURL is the env var for the OTLP metrics endpoint.
	EnvMetricsURL = "MEDIC_OTEL_METRICS_URL"

	// EnvLogsURL is the env var for the OTLP logs endpoint.
	EnvLogsURL = "MEDIC_OTEL_LOGS_URL"

	// DefaultMetricsURL is the OTLP/HTTP metrics path of a local collector.
	DefaultMetricsURL = "http://localhost:4318/v1/metrics"

	// DefaultLogsURL is the OTLP/HTTP logs path of a local collector.
	DefaultLogsURL = "http://localhost:4318/v1/logs"

	// ExportInterval is how often metrics are pushed.
	ExportInterval = 30 * time.Second
)

var (
	initMu         sync.Mutex
	initDone       bool
	globalProvider *Provider
)

// Provider owns the installed SDK providers.
type Provider struct {
	shutdowns    []func(context.Context) error
	shutdownMu   sync.Mutex
	shutdownDone bool
}

// Shutdown flushes and stops every provider, joining their errors. Calls
// after the first are no-ops.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	if p.shutdownDone {
		return nil
	}
	p.shutdownDone = true

	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

// endpoints resolves the export URLs from the environment. Telemetry is
// enabled when either variable is set; the other falls back to its default.
func endpoints() (metricsURL, logsURL string, enabled bool) {
	metricsURL = os.Getenv(EnvMetricsURL)
	logsURL = os.Getenv(EnvLogsURL)
	if metricsURL == "" && logsURL == "" {
		return "", "", false
	}
	if metricsURL == "" {
		metricsURL = DefaultMetricsURL
	}
	if logsURL == "" {
		logsURL = DefaultLogsURL
	}
	return metricsURL, logsURL, true
}

// Init installs the global OTel meter and logger providers for medic.
//
// Only the first call does any work; later calls return the same provider.
// Returns (nil, nil) when neither MEDIC_OTEL_METRICS_URL nor
// MEDIC_OTEL_LOGS_URL is set. A partially built provider is shut down before
// an error is returned.
func Init(ctx context.Context, serviceName, serviceVersion string) (*Provider, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if initDone {
		return globalProvider, nil
	}

	metricsURL, logsURL, enabled := endpoints()
	if !enabled {
		initDone = true
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	p := &Provider{}
	fail := func(err error) (*Provider, error) {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	mp, err := newMeterProvider(ctx, res, metricsURL)
	if err != nil {
		return fail(err)
	}
	p.shutdowns = append(p.shutdowns, mp.Shutdown)

	lp, err := newLoggerProvider(ctx, res, logsURL)
	if err != nil {
		return fail(err)
	}
	p.shutdowns = append(p.shutdowns, lp.Shutdown)

	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	initInstruments()

	initDone = true
	globalProvider = p
	return p, nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, url string) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(url))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(ExportInterval))),
	), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource, url string) (*sdklog.LoggerProvider, error) {
	exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(url))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
	), nil
}
