// Package txscope is the root of the transaction-scoped resource
// coordination library.
//
// Subpackages, leaf first:
//
//   - txsync: per-scope resource registry, holders and synchronization callbacks
//   - resource: acquire/release of shared handles and the close-suppressing proxy
//   - transaction: attributes, rollback rules, statuses and the propagation engine
//   - interceptor: the declarative wrapping layer deciding commit or rollback
//   - postgres, datasource, redis: adapters binding real connection pools
//
// This package carries request-scoped facilities (logger, tracer, metrics)
// through a context.Context:
//
//	ctx = txscope.ContextWithLogger(ctx, logger)
//	ctx = txscope.ContextWithTracer(ctx, tracer)
package txscope
