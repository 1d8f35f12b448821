// Package circuitbreaker decorates a resource.Factory with a circuit
// breaker, so a failing backend stops being asked for handles until it
// recovers.
//
// The decorated factory resolves to its delegate as a registry key: a
// handle acquired through either one is the same binding in a unit of
// work.
package circuitbreaker
