package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/colebrumley/amitrigger/internal/ami"
)

const catalogScopeName = "github.com/colebrumley/amitrigger/catalog"

// InstrumentedCatalog records a span and metrics for every catalog query.
type InstrumentedCatalog struct {
	inner  ami.Catalog
	tracer trace.Tracer
	calls  metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	images metric.Int64Histogram
	attrs  []attribute.KeyValue
}

// WrapCatalog decorates c with instrumentation. Attributes such as region
// are attached to every recorded value.
func WrapCatalog(c ami.Catalog, attrs ...attribute.KeyValue) ami.Catalog {
	m := Meter(catalogScopeName)
	calls, _ := m.Int64Counter("amitrigger.catalog.queries",
		metric.WithDescription("Catalog queries executed"),
	)
	dur, _ := m.Float64Histogram("amitrigger.catalog.query.duration",
		metric.WithDescription("Catalog query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("amitrigger.catalog.errors",
		metric.WithDescription("Catalog queries that returned an error"),
	)
	images, _ := m.Int64Histogram("amitrigger.catalog.images",
		metric.WithDescription("Images returned per catalog query"),
	)
	return &InstrumentedCatalog{
		inner:  c,
		tracer: Tracer(catalogScopeName),
		calls:  calls,
		dur:    dur,
		errs:   errs,
		images: images,
		attrs:  attrs,
	}
}

func (c *InstrumentedCatalog) ListImagesSortedByRecency(ctx context.Context, criteria []ami.Criterion) ([]ami.Image, error) {
	attrs := append([]attribute.KeyValue{attribute.Int("catalog.criteria", len(criteria))}, c.attrs...)
	ctx, span := c.tracer.Start(ctx, "catalog.ListImages",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()
	c.calls.Add(ctx, 1, metric.WithAttributes(c.attrs...))

	start := time.Now()
	images, err := c.inner.ListImagesSortedByRecency(ctx, criteria)
	c.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(c.attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.errs.Add(ctx, 1, metric.WithAttributes(c.attrs...))
		return nil, err
	}
	c.images.Record(ctx, int64(len(images)), metric.WithAttributes(c.attrs...))
	span.SetAttributes(attribute.Int("catalog.images", len(images)))
	return images, nil
}
