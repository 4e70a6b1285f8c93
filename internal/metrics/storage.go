package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type StorageMetrics struct {
	operationDuration metric.Float64Histogram
	operationErrors   metric.Int64Counter
	bytesUploaded     metric.Int64Counter
}

func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	sm := &StorageMetrics{}

	var err error

	sm.operationDuration, err = meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Object store operation duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	sm.operationErrors, err = meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Object store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	sm.bytesUploaded, err = meter.Int64Counter(
		"storage.bytes.uploaded",
		metric.WithDescription("Bytes written to the object store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

func (sm *StorageMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if sm == nil || sm.operationDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", operation))
	sm.operationDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		sm.operationErrors.Add(ctx, 1, attrs)
	}
}

func (sm *StorageMetrics) RecordUploadedBytes(ctx context.Context, n int64) {
	if sm == nil || sm.bytesUploaded == nil {
		return
	}
	sm.bytesUploaded.Add(ctx, n)
}
