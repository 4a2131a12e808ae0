// Package telemetry wires OpenTelemetry tracing for the gateway process.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans this module produces, independent of
// whichever exporter InitTracer wires up.
const TracerName = "github.com/tjfontaine/discordgw"

// InitTracer wires a tracer provider for serviceName, exporting to stdout.
// A production deployment would swap stdouttrace for an OTLP exporter; the
// pipeline and voice packages only depend on the global tracer provider
// via Tracer, so that swap needs no changes outside this function.
func InitTracer(serviceName string, logger *slog.Logger) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info("telemetry: tracer initialized", slog.String("service", serviceName))

	return tp.Shutdown, nil
}

// Tracer returns the package-wide tracer, sourced from whatever provider
// InitTracer (or otel's no-op default) installed.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartRouteSpan starts a span tagged with a route's method and rawRoute,
// for the ledger gate and dispatch stages of the pipeline.
func StartRouteSpan(ctx context.Context, name, method, rawRoute string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("discordgw.route.method", method),
		attribute.String("discordgw.route.raw_route", rawRoute),
	))
}
