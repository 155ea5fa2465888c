// Package tracing provides the process's tracer accessor. There is no
// exporter wired in this deployment (no signing sidecar or collector
// to ship spans to); Init installs a no-op provider so instrumentation
// call sites cost nothing and can be pointed at a real collector later
// without code changes.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Init installs the global no-op tracer provider.
func Init() {
	otel.SetTracerProvider(noop.NewTracerProvider())
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
