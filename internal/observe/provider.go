package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig selects where audiobob's telemetry goes.
type ProviderConfig struct {
	// ServiceName tags every metric and span. Default: "audiobob".
	ServiceName string

	// ServiceVersion is the build version printed at startup.
	ServiceVersion string

	// Registerer is where the audiobob.* instruments are collected for
	// scraping. Default: prometheus.DefaultRegisterer, the registry behind
	// the API server's /metrics route.
	Registerer prometheus.Registerer

	// TraceExporter ships bot.command and HTTP request spans. Nil keeps spans
	// in process, where they still feed trace ids to the logs.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider makes audiobob's meters and tracers the OpenTelemetry
// globals, so [DefaultMetrics], [Tracer] and the HTTP [Middleware] pick them
// up. Call the returned function before exit to flush pending spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "audiobob"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}
	mp, err := scrapedMeters(res, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	tp := tracers(res, cfg.TraceExporter)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}

func serviceResource(cfg ProviderConfig) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
}

// scrapedMeters returns a meter provider that is read only when reg is
// scraped.
func scrapedMeters(res *resource.Resource, reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp)), nil
}

func tracers(res *resource.Resource, exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...)
}
