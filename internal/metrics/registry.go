package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the evidence vault's domain metrics. A nil *Registry is
// valid and records nothing.
type Registry struct {
	meter metric.Meter

	// Pack generation
	PackGenerationDuration metric.Float64Histogram
	PackGenerationCounter  metric.Int64Counter
	GenerationQueueDepth   metric.Int64ObservableGauge

	// Signing
	SigningDuration       metric.Float64Histogram
	SigningFailureCounter metric.Int64Counter

	// Inspector access
	InspectorVerifyCounter metric.Int64Counter

	// Integrity
	IntegrityVerifyCounter metric.Int64Counter

	// Custody
	CustodyAppendCounter metric.Int64Counter
	CustodyForkRetries   metric.Int64Counter

	// System
	DatabaseConnectionPool metric.Int64ObservableGauge
	APIRequestDuration     metric.Float64Histogram
	APIRequestCounter      metric.Int64Counter

	mu         sync.RWMutex
	queueDepth int64
	dbPoolSize int64
}

// NewRegistry creates a registry on the global meter provider
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	if err := r.initPackMetrics(); err != nil {
		return nil, err
	}
	if err := r.initSecurityMetrics(); err != nil {
		return nil, err
	}
	if err := r.initSystemMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initPackMetrics() error {
	var err error

	r.PackGenerationDuration, err = r.meter.Float64Histogram(
		"evv.pack.generation_duration",
		metric.WithDescription("Duration of pack generation in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(50, 100, 500, 1000, 5000, 10000, 60000, 300000),
	)
	if err != nil {
		return err
	}

	r.PackGenerationCounter, err = r.meter.Int64Counter(
		"evv.pack.generation_total",
		metric.WithDescription("Pack generations by outcome"),
	)
	if err != nil {
		return err
	}

	r.GenerationQueueDepth, err = r.meter.Int64ObservableGauge(
		"evv.pack.queue_depth",
		metric.WithDescription("Pack generation jobs waiting for a worker"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.queueDepth)
			return nil
		}),
	)
	return err
}

func (r *Registry) initSecurityMetrics() error {
	var err error

	r.SigningDuration, err = r.meter.Float64Histogram(
		"evv.signing.duration",
		metric.WithDescription("Key manager signing latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.SigningFailureCounter, err = r.meter.Int64Counter(
		"evv.signing.failure_total",
		metric.WithDescription("Failed signing or public key calls"),
	)
	if err != nil {
		return err
	}

	r.InspectorVerifyCounter, err = r.meter.Int64Counter(
		"evv.inspector.verify_total",
		metric.WithDescription("Inspector token verifications by reason"),
	)
	if err != nil {
		return err
	}

	r.IntegrityVerifyCounter, err = r.meter.Int64Counter(
		"evv.integrity.verify_total",
		metric.WithDescription("Manifest integrity verifications by result"),
	)
	if err != nil {
		return err
	}

	r.CustodyAppendCounter, err = r.meter.Int64Counter(
		"evv.custody.append_total",
		metric.WithDescription("Custody events appended by kind"),
	)
	if err != nil {
		return err
	}

	r.CustodyForkRetries, err = r.meter.Int64Counter(
		"evv.custody.fork_retry_total",
		metric.WithDescription("Custody appends retried after a concurrent append"),
	)
	return err
}

func (r *Registry) initSystemMetrics() error {
	var err error

	r.DatabaseConnectionPool, err = r.meter.Int64ObservableGauge(
		"evv.database.connection_pool_size",
		metric.WithDescription("Current database connection pool size"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.dbPoolSize)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"evv.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"evv.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)
	return err
}

// SetQueueDepth sets the generation queue depth
func (r *Registry) SetQueueDepth(depth int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueDepth = depth
}

// SetDBPoolSize sets the database connection pool size
func (r *Registry) SetDBPoolSize(size int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dbPoolSize = size
}

// RecordPackGeneration records one finished generation job
func (r *Registry) RecordPackGeneration(ctx context.Context, durationMS float64, outcome string) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.PackGenerationDuration.Record(ctx, durationMS, attrs)
	r.PackGenerationCounter.Add(ctx, 1, attrs)
}

// RecordSigning records a key manager call
func (r *Registry) RecordSigning(ctx context.Context, durationMS float64, keyID string, success bool) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("key_id", keyID),
		attribute.Bool("success", success),
	)
	r.SigningDuration.Record(ctx, durationMS, attrs)
	if !success {
		r.SigningFailureCounter.Add(ctx, 1, attrs)
	}
}

// RecordInspectorVerify records a token verification outcome
func (r *Registry) RecordInspectorVerify(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.InspectorVerifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordIntegrityVerify records a verifier run
func (r *Registry) RecordIntegrityVerify(ctx context.Context, source string, valid bool) {
	if r == nil {
		return
	}
	r.IntegrityVerifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("valid", valid),
	))
}

// RecordCustodyAppend records an appended custody event
func (r *Registry) RecordCustodyAppend(ctx context.Context, kind string, retries int) {
	if r == nil {
		return
	}
	r.CustodyAppendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	if retries > 0 {
		r.CustodyForkRetries.Add(ctx, int64(retries))
	}
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, duration float64, method, path string, statusCode int) {
	if r == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
