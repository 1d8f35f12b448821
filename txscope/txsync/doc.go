// Package txsync tracks the resources and lifecycle callbacks of the unit of
// work running in one logical thread of control.
//
// Go has no thread-local storage, so a logical thread is represented by a
// *Scope carried in a context.Context. Every call taking part in the unit of
// work receives the same context (or one derived from it) and therefore sees
// the same bindings:
//
//	ctx = txsync.NewContext(ctx)
//	_ = txsync.InitSynchronization(ctx)
//	_ = txsync.BindResource(ctx, factory, holder)
//
// A Scope must not be used by two goroutines at once. A goroutine spawned
// from inside a unit of work that needs its own coordination calls Detach.
//
// Synchronization callbacks are dispatched in ascending Order(), ties broken
// by registration order, for every phase: suspend, resume, before-commit,
// before-completion, after-commit and after-completion.
package txsync
