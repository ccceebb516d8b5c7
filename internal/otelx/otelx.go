// Package otelx holds the process-wide OpenTelemetry tracer and meter
// shared by internal/progress, internal/workerpool and
// internal/scheduler, defaulting to the stdout exporters so the
// library is self-contained without requiring an external collector.
package otelx

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/corestash/corestash"

var (
	once   sync.Once
	tracer trace.Tracer
	meter  metric.Meter
)

// initDefault wires the global tracer/meter providers to the stdout
// exporters. A failure to construct either exporter leaves the
// corresponding provider at the otel no-op default rather than
// panicking the library's caller.
func initDefault() {
	if texp, err := stdouttrace.New(stdouttrace.WithPrettyPrint()); err == nil {
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithBatcher(texp)))
	}
	if mexp, err := stdoutmetric.New(); err == nil {
		otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mexp))))
	}
	tracer = otel.Tracer(instrumentationName)
	meter = otel.Meter(instrumentationName)
}

// Tracer returns the package-wide tracer, lazily initializing the
// default stdout-exporter providers on first use.
func Tracer() trace.Tracer {
	once.Do(initDefault)
	return tracer
}

// Meter returns the package-wide meter, lazily initializing the
// default stdout-exporter providers on first use.
func Meter() metric.Meter {
	once.Do(initDefault)
	return meter
}
