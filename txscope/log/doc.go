// Package log defines the logging contract used across txscope packages.
//
// Library code never logs through a concrete backend. It receives a Logger
// through options or from the request context and falls back to NopLogger.
// The zap package provides the production adapter.
package log
