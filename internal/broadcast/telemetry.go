package broadcast

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-slidecast/internal/broadcast"

type instruments struct {
	tracer   trace.Tracer
	events   metric.Int64Counter
	cache    metric.Int64Counter
	audio    metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)
	events, err := meter.Int64Counter("slidecast.broadcast.events",
		metric.WithDescription("Slide change events by outcome and identity rule"))
	if err != nil {
		return nil, err
	}
	cache, err := meter.Int64Counter("slidecast.message.cache",
		metric.WithDescription("Message cache lookups by result"))
	if err != nil {
		return nil, err
	}
	audio, err := meter.Int64Counter("slidecast.audio.results",
		metric.WithDescription("Per-language audio outcomes"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("slidecast.broadcast.duration",
		metric.WithDescription("End to end broadcast latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &instruments{
		tracer:   tp.Tracer(instrumentationName),
		events:   events,
		cache:    cache,
		audio:    audio,
		duration: duration,
	}, nil
}

func (i *instruments) countEvent(ctx context.Context, outcome, rule string) {
	i.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("rule", rule),
	))
}

func (i *instruments) countCache(ctx context.Context, result string) {
	i.cache.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (i *instruments) countAudio(ctx context.Context, result string) {
	i.audio.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
