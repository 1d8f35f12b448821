// Package metrics provides a lazily-populated cache of OpenTelemetry
// instruments with a fluent recording API.
package metrics
