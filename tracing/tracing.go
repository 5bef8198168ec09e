// Package tracing provides the engine's tracer accessor. Installing an
// actual exporter/SDK is left to the enclosing collaborator (HTTP/WS
// server, CLI) via otel.SetTracerProvider; until one is installed,
// otel.Tracer returns the library's built-in no-op implementation, so
// search and fit code can unconditionally start spans with no import-time
// dependency on a concrete SDK.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns the engine's tracer, scoped to name (e.g. "occam/search",
// "occam/vb").
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
