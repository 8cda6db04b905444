// Package tracing provides opt-in OpenTelemetry tracing for the surveyz
// server. Tracing is enabled only when OTEL_EXPORTER_OTLP_ENDPOINT is set;
// otherwise [Init] returns a no-op shutdown function and spans started with
// [StartEvaluation] go to whatever provider is globally installed.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName = "surveyz"
	// TracerName is the instrumentation scope of surveyz spans.
	TracerName = "github.com/matt-riley/surveyz"
)

// Span attribute keys for trigger evaluation.
const (
	ProjectIDKey  = attribute.Key("surveyz.project_id")
	EntryPointKey = attribute.Key("surveyz.entry_point")
	TriggerKey    = attribute.Key("surveyz.trigger")
	MatchedKey    = attribute.Key("surveyz.matched")
	PlanIDKey     = attribute.Key("surveyz.plan_id")
)

// Init installs a global tracer provider that batches spans to the OTLP HTTP
// endpoint. The returned function flushes pending spans on shutdown.
func Init(ctx context.Context) (shutdown func(context.Context) error, err error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(serviceAttributes()...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the surveyz tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartEvaluation opens the span that wraps one trigger evaluation.
func StartEvaluation(ctx context.Context, tracer trace.Tracer, projectID, entryPoint, trigger string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "surveyz.Evaluate", trace.WithAttributes(
		ProjectIDKey.String(projectID),
		EntryPointKey.String(entryPoint),
		TriggerKey.String(trigger),
	))
}

// EndEvaluation records the outcome on span and ends it.
func EndEvaluation(span trace.Span, planID string, matched bool) {
	span.SetAttributes(MatchedKey.Bool(matched))
	if matched {
		span.SetAttributes(PlanIDKey.String(planID))
	}
	span.End()
}

func serviceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("service.name", serviceNameFromEnv())}
	if version := buildVersion(); version != "" {
		attrs = append(attrs, attribute.String("service.version", version))
	}
	return attrs
}

func serviceNameFromEnv() string {
	if name := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); name != "" {
		return name
	}
	return defaultServiceName
}

// buildVersion is the main module version, or "" for development builds.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}
