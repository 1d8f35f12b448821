// Package nilcheck detects nil values hidden behind non-nil interfaces.
package nilcheck

import "reflect"

// Interface reports whether value is nil, including typed nils stored in an
// interface (a nil *T passed as an io.Closer, for example).
func Interface(value any) bool {
	if value == nil {
		return true
	}

	v := reflect.ValueOf(value)

	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

// Comparable reports whether value can be used as a map key or compared
// with ==. Registry keys must satisfy it.
func Comparable(value any) bool {
	if value == nil {
		return false
	}

	return reflect.TypeOf(value).Comparable()
}
