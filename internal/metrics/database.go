package metrics

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type DatabaseMetrics struct {
	connectionsOpen   metric.Int64ObservableGauge
	connectionsIdle   metric.Int64ObservableGauge
	connectionsInUse  metric.Int64ObservableGauge
	connectionsWaited metric.Int64ObservableCounter
	queryDuration     metric.Float64Histogram
	queryErrors       metric.Int64Counter
	db                *sql.DB
}

func NewDatabaseMetrics(meter metric.Meter) (*DatabaseMetrics, error) {
	dm := &DatabaseMetrics{}

	var err error

	dm.connectionsOpen, err = meter.Int64ObservableGauge(
		"db.connections.open",
		metric.WithDescription("Current number of open database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	dm.connectionsIdle, err = meter.Int64ObservableGauge(
		"db.connections.idle",
		metric.WithDescription("Current number of idle database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	dm.connectionsInUse, err = meter.Int64ObservableGauge(
		"db.connections.in_use",
		metric.WithDescription("Current number of in-use database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	dm.connectionsWaited, err = meter.Int64ObservableCounter(
		"db.connections.wait_count",
		metric.WithDescription("Total number of connections waited for"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, err
	}

	dm.queryDuration, err = meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	dm.queryErrors, err = meter.Int64Counter(
		"db.query.errors",
		metric.WithDescription("Database query errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return dm, nil
}

// RegisterDB observes the pool stats of db on every collection.
func (dm *DatabaseMetrics) RegisterDB(db *sql.DB, meter metric.Meter) error {
	if dm == nil || meter == nil || dm.connectionsOpen == nil {
		return nil
	}
	dm.db = db

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if dm.db == nil {
				return nil
			}

			stats := dm.db.Stats()

			observer.ObserveInt64(dm.connectionsOpen, int64(stats.OpenConnections))
			observer.ObserveInt64(dm.connectionsIdle, int64(stats.Idle))
			observer.ObserveInt64(dm.connectionsInUse, int64(stats.InUse))
			observer.ObserveInt64(dm.connectionsWaited, stats.WaitCount)

			return nil
		},
		dm.connectionsOpen,
		dm.connectionsIdle,
		dm.connectionsInUse,
		dm.connectionsWaited,
	)

	return err
}

func (dm *DatabaseMetrics) RecordQuery(ctx context.Context, operation string, table string, duration time.Duration, err error) {
	if dm == nil || dm.queryDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("table", table),
	}

	dm.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	// sql.ErrNoRows is an expected outcome of lookups, not a failure
	if err != nil && !errors.Is(err, sql.ErrNoRows) && dm.queryErrors != nil {
		dm.queryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
