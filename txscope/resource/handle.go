package resource

import (
	"context"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
)

// Handle is a pooled connection-like resource. Close returns it to its pool.
type Handle interface {
	Close() error
}

// Factory produces handles. A factory is also the registry key its handle
// is bound under, so it must be comparable (use a pointer).
type Factory interface {
	NewHandle(ctx context.Context) (Handle, error)
}

// CloseVetoer lets a factory keep handles it does not want closed, such as a
// single shared connection.
type CloseVetoer interface {
	ShouldClose(h Handle) bool
}

// NestingDepth is implemented by factories that decorate other factories.
// Deeper decorators release their handles first.
type NestingDepth interface {
	NestingDepth() int
}

// TargetHandle is implemented by proxies wrapping a real handle.
type TargetHandle interface {
	Target() Handle
}

// Unwrap follows TargetHandle chains down to the innermost handle.
//
//nolint:ireturn
func Unwrap(h Handle) Handle {
	for range 32 {
		proxy, ok := h.(TargetHandle)
		if !ok {
			return h
		}

		target := proxy.Target()
		if nilcheck.Interface(target) {
			return h
		}

		h = target
	}

	return h
}

func sameHandle(a, b Handle) bool {
	if nilcheck.Interface(a) || nilcheck.Interface(b) {
		return false
	}

	a, b = Unwrap(a), Unwrap(b)
	if !nilcheck.Comparable(a) || !nilcheck.Comparable(b) {
		return false
	}

	return a == b
}
