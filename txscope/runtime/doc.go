// Package runtime converts panics raised by callbacks into errors and reports
// them to an optional ErrorReporter.
//
// Coordination code runs user callbacks inside cleanup paths. A panic there
// must not skip the remaining callbacks, so dispatchers run each callback
// through SafeInvoke and treat the resulting *PanicError like any other
// failure.
package runtime
