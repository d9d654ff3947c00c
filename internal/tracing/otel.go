package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Setup installs a global tracer provider for the service. Finished spans are
// written to logger at debug level. The returned function flushes and stops
// the provider.
func Setup(serviceName, version string, logger zerolog.Logger) (func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(NewLogProcessor(logger)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// LogProcessor writes one log event per finished span.
type LogProcessor struct {
	logger zerolog.Logger
}

var _ sdktrace.SpanProcessor = (*LogProcessor)(nil)

// NewLogProcessor returns a span processor that logs to logger.
func NewLogProcessor(logger zerolog.Logger) *LogProcessor {
	return &LogProcessor{logger: logger}
}

func (p *LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	var ev *zerolog.Event
	if s.Status().Code == codes.Error {
		ev = p.logger.Warn().Str("error", s.Status().Description)
	} else {
		ev = p.logger.Debug()
	}
	for _, kv := range s.Attributes() {
		ev = ev.Str(string(kv.Key), kv.Value.Emit())
	}
	ev.Str("span", s.Name()).
		Str("otel_trace_id", s.SpanContext().TraceID().String()).
		Dur("duration", s.EndTime().Sub(s.StartTime())).
		Msg("span finished")
}

func (p *LogProcessor) Shutdown(context.Context) error   { return nil }
func (p *LogProcessor) ForceFlush(context.Context) error { return nil }

// StartSpan starts a span on the named tracer. When ctx carries no trace ID
// yet, the span's trace ID is stored so loggers pick it up.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}

// RecordError marks the span as failed. A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
