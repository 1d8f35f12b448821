// Package resource shares one pooled handle per factory across every call
// site of a unit of work.
//
// Call sites obtain handles with Acquire and give them back with Release.
// Inside a unit of work with active synchronization the first Acquire binds
// a Holder and registers a synchronization that returns the handle to the
// factory when the unit of work completes; later calls get the same handle.
// Outside a unit of work Acquire returns a fresh handle and Release closes it.
package resource
