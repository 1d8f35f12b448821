package transaction

import (
	"errors"
	"reflect"
	"strings"

	"github.com/LerianStudio/lib-txscope/txscope/runtime"
)

// maxErrorDepth bounds the walk over wrapped error chains.
const maxErrorDepth = 64

// Attributes is a Definition plus the interception-time decisions: which
// manager to use and which errors roll back.
type Attributes struct {
	Definition

	// Qualifier selects a manager registered under that name. Empty means
	// the default manager.
	Qualifier string
	Labels    []string

	// RollbackRules are evaluated before the default classification. The
	// rule matching closest to the returned error wins.
	RollbackRules []RollbackRule

	// RollbackOnFunc, when set, replaces rules and default classification.
	RollbackOnFunc func(err error) bool
}

// RollbackOn reports whether err must roll the transaction back.
//
// Panics always roll back. Otherwise RollbackOnFunc decides when set, then
// the closest matching rule, then the default: roll back unless err is
// declared expected.
func (a *Attributes) RollbackOn(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, runtime.ErrPanic) {
		return true
	}

	if a == nil {
		return !IsExpected(err)
	}

	if a.RollbackOnFunc != nil {
		return a.RollbackOnFunc(err)
	}

	var (
		winner  *RollbackRule
		closest = -1
	)

	for i := range a.RollbackRules {
		depth := a.RollbackRules[i].Depth(err)
		if depth >= 0 && (closest < 0 || depth < closest) {
			closest = depth
			winner = &a.RollbackRules[i]
		}
	}

	if winner != nil {
		return winner.rollback
	}

	return !IsExpected(err)
}

func (a *Attributes) String() string {
	if a == nil {
		return "<nil>"
	}

	var b strings.Builder

	b.WriteString(a.Definition.String())

	for _, rule := range a.RollbackRules {
		b.WriteString(",")
		b.WriteString(rule.String())
	}

	if a.Qualifier != "" {
		b.WriteString("; '")
		b.WriteString(a.Qualifier)
		b.WriteString("'")
	}

	return b.String()
}

// Expected wraps err so that the default classification commits instead of
// rolling back.
func Expected(err error) error {
	if err == nil {
		return nil
	}

	return &expectedError{err: err}
}

type expectedError struct {
	err error
}

func (e *expectedError) Error() string   { return e.err.Error() }
func (e *expectedError) Unwrap() []error { return []error{ErrExpected, e.err} }
func (e *expectedError) Expected() bool  { return true }

// IsExpected reports whether err is declared expected, either by wrapping
// ErrExpected or through an Expected() bool method in its chain.
func IsExpected(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrExpected) {
		return true
	}

	var declared interface{ Expected() bool }
	if errors.As(err, &declared) {
		return declared.Expected()
	}

	return false
}

// RollbackRule maps a family of errors to a rollback decision.
type RollbackRule struct {
	rollback bool
	name     string
	match    func(err error) bool
}

// RollbackOnError rolls back when target is in the error chain.
func RollbackOnError(target error) RollbackRule {
	return errorRule(target, true)
}

// NoRollbackOnError commits when target is in the error chain.
func NoRollbackOnError(target error) RollbackRule {
	return errorRule(target, false)
}

// RollbackOnType rolls back when an error of type T is in the chain.
func RollbackOnType[T error]() RollbackRule {
	return typeRule[T](true)
}

// NoRollbackOnType commits when an error of type T is in the chain.
func NoRollbackOnType[T error]() RollbackRule {
	return typeRule[T](false)
}

func errorRule(target error, rollback bool) RollbackRule {
	name := "<nil>"
	if target != nil {
		name = target.Error()
	}

	return RollbackRule{
		rollback: rollback,
		name:     name,
		match: func(err error) bool {
			if target == nil {
				return false
			}

			if reflect.TypeOf(target).Comparable() && err == target {
				return true
			}

			if is, ok := err.(interface{ Is(error) bool }); ok {
				return is.Is(target)
			}

			return false
		},
	}
}

func typeRule[T error](rollback bool) RollbackRule {
	return RollbackRule{
		rollback: rollback,
		name:     reflect.TypeFor[T]().String(),
		match: func(err error) bool {
			_, ok := err.(T)

			return ok
		},
	}
}

// Rollback reports the decision of the rule when it matches.
func (r RollbackRule) Rollback() bool {
	return r.rollback
}

// Depth returns how many unwrap steps separate err from the first error the
// rule matches, or -1 when it matches nothing.
func (r RollbackRule) Depth(err error) int {
	if r.match == nil {
		return -1
	}

	return matchDepth(err, r.match, 0)
}

func (r RollbackRule) String() string {
	if r.rollback {
		return "-" + r.name
	}

	return "+" + r.name
}

func matchDepth(err error, match func(error) bool, depth int) int {
	if err == nil || depth > maxErrorDepth {
		return -1
	}

	if match(err) {
		return depth
	}

	switch wrapped := err.(type) {
	case interface{ Unwrap() error }:
		return matchDepth(wrapped.Unwrap(), match, depth+1)
	case interface{ Unwrap() []error }:
		best := -1

		for _, inner := range wrapped.Unwrap() {
			if d := matchDepth(inner, match, depth+1); d >= 0 && (best < 0 || d < best) {
				best = d
			}
		}

		return best
	default:
		return -1
	}
}

// Clone returns a copy of a that shares no slices with it.
func (a *Attributes) Clone() *Attributes {
	if a == nil {
		return nil
	}

	clone := *a
	clone.Labels = append([]string(nil), a.Labels...)
	clone.RollbackRules = append([]RollbackRule(nil), a.RollbackRules...)

	return &clone
}
