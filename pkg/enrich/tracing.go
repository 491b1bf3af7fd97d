package enrich

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"corelog/pkg/types"
)

// TracingEnricher extracts trace_id/span_id from an otel SpanContext
// carried on the call-site context.Context, when one is present and
// valid. Events logged outside a span are left untouched.
type TracingEnricher struct{}

func (TracingEnricher) Name() string { return "tracing" }

func (TracingEnricher) Enrich(ctx context.Context, env *types.LogEnvelope) (map[string]any, error) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil, nil
	}
	return map[string]any{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}, nil
}
