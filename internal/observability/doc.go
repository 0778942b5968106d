// Package observability configures OpenTelemetry tracing.
//
// Tracing is off unless InitTracer is called with enabled set. The benchmark
// controller opens one span per run with an event per phase, and the
// consistency verifier opens one span per check.
package observability
