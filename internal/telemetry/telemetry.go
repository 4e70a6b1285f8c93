package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"file-service/internal/config"
	"file-service/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Metrics       *metrics.Metrics
}

func InitMeterProvider(ctx context.Context, cfg config.TelemetryConfig, serviceName, serviceVersion string, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	logger.Info("initializing OTel metrics", "endpoint", cfg.Endpoint)

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(10*time.Second))),
	)

	otel.SetMeterProvider(meterProvider)
	logger.Info("OTel metrics initialized successfully")

	return meterProvider, nil
}

// Init sets up metric export when enabled. When disabled the collectors are
// still created on the global no-op provider so callers never branch on it.
func Init(ctx context.Context, cfg config.TelemetryConfig, serviceName, serviceVersion, env string, logger *slog.Logger) (*Telemetry, error) {
	t := &Telemetry{}

	if cfg.Enabled {
		meterProvider, err := InitMeterProvider(ctx, cfg, serviceName, serviceVersion, logger)
		if err != nil {
			return nil, err
		}
		t.MeterProvider = meterProvider
	} else {
		logger.Info("OTel metrics export disabled")
	}

	m, err := metrics.New(ctx, serviceName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	t.Metrics = m

	if err := m.Health.RegisterServiceInfo(m.Meter(), serviceName, serviceVersion, env); err != nil {
		logger.Warn("failed to register service info", "error", err)
	}

	return t, nil
}

func (t *Telemetry) Shutdown(ctx context.Context, logger *slog.Logger) error {
	if t == nil || t.MeterProvider == nil {
		return nil
	}
	logger.Info("shutting down OTel meter provider")
	if err := t.MeterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}
