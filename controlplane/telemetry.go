package controlplane

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/choreoflow/choreoctl/telemetry"
)

// instrumentation bundles the Tracer/Metrics every control-plane operation
// opens a span and records a counter/timer against. Defaults to no-ops so
// tests and callers that never configure telemetry pay no cost.
type instrumentation struct {
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
}

func defaultInstrumentation() instrumentation {
	return instrumentation{tracer: telemetry.NewNoopTracer(), metrics: telemetry.NewNoopMetrics()}
}

// traced runs fn inside a span named "controlplane."+op, records its
// duration and a call counter, and marks the span failed when fn returns a
// non-nil error (acquire/renew/release/updateState/notifyIfReady/finalize
// all call through this one helper).
func (i instrumentation) traced(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "controlplane."+op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	i.metrics.RecordTimer("controlplane."+op+".duration", time.Since(start))
	i.metrics.IncCounter("controlplane."+op+".count", 1)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
