package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics tracks latency, traffic, errors and saturation of the API.
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	errorsTotal     metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	hm := &HTTPMetrics{}

	var err error

	hm.requestDuration, err = meter.Float64Histogram(
		"http.server.request_duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}

	hm.requestsTotal, err = meter.Int64Counter(
		"http.server.requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	hm.errorsTotal, err = meter.Int64Counter(
		"http.server.errors_total",
		metric.WithDescription("Total number of HTTP responses with status >= 500"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	hm.activeRequests, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return hm, nil
}

// Middleware records every request under its chi route pattern.
func (hm *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hm == nil || hm.requestDuration == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		hm.activeRequests.Add(ctx, 1)
		defer hm.activeRequests.Add(context.WithoutCancel(ctx), -1)

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.String("status", strconv.Itoa(status)),
		)
		hm.requestsTotal.Add(ctx, 1, attrs)
		hm.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if status >= http.StatusInternalServerError {
			hm.errorsTotal.Add(ctx, 1, attrs)
		}
	})
}
