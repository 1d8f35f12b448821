// Package rabbitmq publishes AMQP messages in step with the unit of work of
// the caller.
//
// Inside a unit of work, a Publisher uses one channel in transaction mode,
// bound to the unit. Messages are held by the broker until the unit has
// committed, and discarded when it rolls back. Outside a unit of work each
// Publish uses a short-lived channel and is delivered at once.
//
// Messages are committed after the surrounding unit of work. A failure at
// that point is logged and returned from the after-commit phase, but the
// unit of work itself stays committed.
package rabbitmq
