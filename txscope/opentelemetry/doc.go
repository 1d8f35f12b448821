// Package opentelemetry holds the small tracing helpers shared by the
// coordination packages. Metric instruments live in the metrics subpackage.
package opentelemetry
