package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Latency buckets in seconds shared by request, query and object store histograms:
// 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

type Metrics struct {
	Runtime   *RuntimeMetrics
	Database  *DatabaseMetrics
	Messaging *MessagingMetrics
	Health    *HealthMetrics
	HTTP      *HTTPMetrics
	Storage   *StorageMetrics
	Files     *FileMetrics
	meter     metric.Meter
	logger    *slog.Logger
}

func New(ctx context.Context, serviceName string, logger *slog.Logger) (*Metrics, error) {
	meter := otel.Meter(serviceName)

	runtime, err := NewRuntimeMetrics(ctx, meter)
	if err != nil {
		return nil, err
	}

	database, err := NewDatabaseMetrics(meter)
	if err != nil {
		return nil, err
	}

	messaging, err := NewMessagingMetrics(meter)
	if err != nil {
		return nil, err
	}

	health, err := NewHealthMetrics(meter)
	if err != nil {
		return nil, err
	}

	httpMetrics, err := NewHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	storage, err := NewStorageMetrics(meter)
	if err != nil {
		return nil, err
	}

	files, err := NewFileMetrics(meter)
	if err != nil {
		return nil, err
	}

	logger.Info("metrics collectors initialized successfully")

	return &Metrics{
		Runtime:   runtime,
		Database:  database,
		Messaging: messaging,
		Health:    health,
		HTTP:      httpMetrics,
		Storage:   storage,
		Files:     files,
		meter:     meter,
		logger:    logger,
	}, nil
}

// Meter returns the meter the collectors were registered on.
func (m *Metrics) Meter() metric.Meter {
	if m == nil {
		return nil
	}
	return m.meter
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{
		Runtime:   &RuntimeMetrics{},
		Database:  &DatabaseMetrics{},
		Messaging: &MessagingMetrics{},
		Health:    &HealthMetrics{dependencies: map[string]*DependencyStatus{}},
		HTTP:      &HTTPMetrics{},
		Storage:   &StorageMetrics{},
		Files:     &FileMetrics{},
	}
}
