package txsync

import (
	"context"
	"fmt"
	"maps"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// maxUnwrapDepth bounds key unwrapping so a cyclic Unwrap chain cannot hang
// a lookup.
const maxUnwrapDepth = 32

// Unwrapper is implemented by resource keys that decorate another key. A
// decorated factory and its delegate resolve to the same binding.
type Unwrapper interface {
	Unwrap() any
}

// ResolveKey returns the innermost key behind any Unwrapper chain.
func ResolveKey(key any) any {
	for range maxUnwrapDepth {
		wrapper, ok := key.(Unwrapper)
		if !ok {
			return key
		}

		inner := wrapper.Unwrap()
		if nilcheck.Interface(inner) {
			return key
		}

		key = inner
	}

	return key
}

func checkKey(key any) (any, error) {
	if nilcheck.Interface(key) {
		return nil, ErrNilResource
	}

	key = ResolveKey(key)
	if !nilcheck.Comparable(key) {
		return nil, fmt.Errorf("%w: %T", ErrInvalidKey, key)
	}

	return key, nil
}

// BindResource binds value to key in the scope of ctx.
func BindResource(ctx context.Context, key, value any) error {
	if nilcheck.Interface(value) {
		return ErrNilResource
	}

	resolved, err := checkKey(key)
	if err != nil {
		return err
	}

	scope, ok := FromContext(ctx)
	if !ok {
		return ErrNoScope
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	if existing, found := scope.resources[resolved]; found {
		if holder, isHolder := existing.(ResourceHolder); !isHolder || !holder.IsVoid() {
			return fmt.Errorf("%w: %T", ErrAlreadyBound, resolved)
		}
	}

	if scope.resources == nil {
		scope.resources = make(map[any]any)
	}

	scope.resources[resolved] = value

	traceBinding(ctx, scope, "bound resource to scope", resolved)

	return nil
}

// UnbindResource removes and returns the value bound to key.
func UnbindResource(ctx context.Context, key any) (any, error) {
	resolved, err := checkKey(key)
	if err != nil {
		return nil, err
	}

	scope, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoScope
	}

	value := scope.unbind(resolved)
	if value == nil {
		return nil, fmt.Errorf("%w: %T", ErrNotBound, resolved)
	}

	traceBinding(ctx, scope, "unbound resource from scope", resolved)

	return value, nil
}

// UnbindResourceIfPossible removes and returns the value bound to key, or
// nil when nothing is bound.
func UnbindResourceIfPossible(ctx context.Context, key any) any {
	resolved, err := checkKey(key)
	if err != nil {
		return nil
	}

	scope, ok := FromContext(ctx)
	if !ok {
		return nil
	}

	return scope.unbind(resolved)
}

func (s *Scope) unbind(key any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.resources[key]
	if !found {
		return nil
	}

	delete(s.resources, key)

	if holder, ok := value.(ResourceHolder); ok && holder.IsVoid() {
		return nil
	}

	return value
}

// GetResource returns the value bound to key, or nil. A void holder found
// under key is removed and not returned.
func GetResource(ctx context.Context, key any) any {
	resolved, err := checkKey(key)
	if err != nil {
		return nil
	}

	scope, ok := FromContext(ctx)
	if !ok {
		return nil
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	value, found := scope.resources[resolved]
	if !found {
		return nil
	}

	if holder, isHolder := value.(ResourceHolder); isHolder && holder.IsVoid() {
		delete(scope.resources, resolved)
		return nil
	}

	return value
}

// HasResource reports whether a live value is bound to key.
func HasResource(ctx context.Context, key any) bool {
	return GetResource(ctx, key) != nil
}

// ResourceMap returns a snapshot of the bindings of the scope of ctx.
func ResourceMap(ctx context.Context) map[any]any {
	scope, ok := FromContext(ctx)
	if !ok {
		return map[any]any{}
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()

	snapshot := make(map[any]any, len(scope.resources))
	maps.Copy(snapshot, scope.resources)

	return snapshot
}

func traceBinding(ctx context.Context, scope *Scope, msg string, key any) {
	logger := txscope.LoggerFromContext(ctx)
	if !logger.Enabled(log.LevelDebug) {
		return
	}

	logger.Log(ctx, log.LevelDebug, msg,
		log.String("scope_id", scope.id.String()),
		log.String("resource_key", fmt.Sprintf("%T", key)),
	)
}
