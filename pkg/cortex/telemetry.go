package cortex

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/srediag/cortex/internal/logging"
	"github.com/srediag/cortex/internal/metrics"
)

const instrumentationName = "github.com/srediag/cortex"

// telemetry carries the OpenTelemetry instruments of one handle.
type telemetry struct {
	tracer   trace.Tracer
	lockWait metric.Float64Histogram
}

func newTelemetry(meter metric.Meter, tracer trace.Tracer) telemetry {
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	wait, err := meter.Float64Histogram("cortex.lock.wait",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent blocked acquiring the handle lock"))
	if err != nil {
		logging.L().Warn("lock wait histogram unavailable", zap.Error(err))
		wait = metricnoop.Float64Histogram{}
	}
	return telemetry{tracer: tracer, lockWait: wait}
}

// SetLogger replaces the logger cortex reports to. A nil logger silences it.
func SetLogger(l *zap.Logger) {
	logging.Set(l)
}

func (t telemetry) start(name string, key Key) (context.Context, trace.Span) {
	return t.tracer.Start(context.Background(), name, trace.WithAttributes(keyAttr(key)))
}

// acquire takes lock and records how long it blocked.
func (t telemetry) acquire(ctx context.Context, key Key, lock Locker) error {
	begin := time.Now()
	err := lock.Acquire()
	waited := time.Since(begin).Seconds()
	t.lockWait.Record(ctx, waited, metric.WithAttributes(keyAttr(key)))
	metrics.Default.LockWait.Observe(waited)
	if err != nil {
		return asError("acquire", key, err)
	}
	return nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func keyAttr(key Key) attribute.KeyValue {
	return attribute.Int("cortex.key", int(key))
}
