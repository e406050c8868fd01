// Package telemetry wraps OTel SDK setup for the harness: a central
// TracerProvider and MeterProvider built from config. When telemetry is
// disabled, no exporters are created and the global providers stay noop.
package telemetry
