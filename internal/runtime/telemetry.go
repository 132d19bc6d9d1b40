package runtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
)

// Telemetry owns the meter and tracer providers plus the prometheus
// registry the /metrics endpoint serves.
type Telemetry struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
	server   *http.Server
}

// TelemetryOptions configures telemetry initialization.
type TelemetryOptions struct {
	ServiceName    string
	ServiceVersion string
	Logger         *log.Logger
}

// SetupTelemetry installs the global meter provider backed by a prometheus
// exporter, plus OTLP trace and metric export when an endpoint is set. With
// telemetry disabled the otel no-op providers stay in place.
func SetupTelemetry(ctx context.Context, cfg config.TelemetryConfig, opts TelemetryOptions) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "marketbrain"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			attribute.String("service.namespace", "marketbrain"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promExporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("prom exporter: %w", err)
	}
	readers := []sdkmetric.Option{sdkmetric.WithReader(promExporter), sdkmetric.WithResource(res)}

	t := &Telemetry{registry: registry}
	if cfg.OTLPEndpoint != "" {
		dial := grpc.WithUserAgent(opts.ServiceName)
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(dial),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp init: %w", err)
		}
		t.tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(t.tp)

		metricExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithDialOption(dial),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric init: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))))
	}
	t.mp = sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(t.mp)

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.Handler())
		t.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server error: %v", err)
			}
		}()
	}
	return t, nil
}

// Handler serves the telemetry registry, or the default prometheus registry
// when telemetry is disabled.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes providers and stops the metrics listener.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var err error
	if t.server != nil {
		if e := t.server.Shutdown(ctx); e != nil {
			err = fmt.Errorf("metrics server shutdown: %w", e)
		}
	}
	if t.tp != nil {
		if e := t.tp.Shutdown(ctx); e != nil {
			err = joinErr(err, fmt.Errorf("trace shutdown: %w", e))
		}
	}
	if t.mp != nil {
		if e := t.mp.Shutdown(ctx); e != nil {
			err = joinErr(err, fmt.Errorf("metric shutdown: %w", e))
		}
	}
	return err
}

func joinErr(prev, next error) error {
	if prev == nil {
		return next
	}
	return fmt.Errorf("%v; %w", prev, next)
}
