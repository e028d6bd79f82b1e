package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Embedder is the routed-embedding shape the bot uses: one text in, one
// vector plus the method that produced it out.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, string, error)
}

// ObservedEmbedder wraps the privacy router (or any Embedder) with OTEL
// instrumentation. The embedding method chosen per call is recorded, so
// local/external routing shows up in the metrics backend.
type ObservedEmbedder struct {
	inner Embedder
	inst  *Instruments
}

var _ Embedder = (*ObservedEmbedder)(nil)

// WrapEmbedder returns an instrumented embedder.
func WrapEmbedder(inner Embedder, inst *Instruments) *ObservedEmbedder {
	return &ObservedEmbedder{inner: inner, inst: inst}
}

func (o *ObservedEmbedder) Embed(ctx context.Context, text string) ([]float32, string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "embed.route", trace.WithAttributes(
		AttrEmbedTextChars.Int(len(text)),
	))
	defer span.End()
	start := time.Now()

	vec, method, err := o.inner.Embed(ctx, text)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		AttrEmbedMethod.String(method),
		AttrEmbedDimensions.Int(len(vec)),
	)

	o.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
		AttrEmbedMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.EmbedDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrEmbedMethod.String(method),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("embedding completed"))
	rec.AddAttributes(
		otellog.String("embed.method", method),
		otellog.Int("embed.dimensions", len(vec)),
		otellog.Float64("embed.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return vec, method, err
}
