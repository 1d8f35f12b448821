package outbox

import "errors"

var (
	ErrEventRequired          = errors.New("outbox event is required")
	ErrRepositoryRequired     = errors.New("outbox repository is required")
	ErrManagerRequired        = errors.New("transaction manager is required")
	ErrHandlerRequired        = errors.New("event handler is required")
	ErrDispatcherRunning      = errors.New("outbox dispatcher is already running")
	ErrEventTypeRequired      = errors.New("event type is required")
	ErrAggregateIDRequired    = errors.New("aggregate id is required")
	ErrPayloadRequired        = errors.New("outbox event payload is required")
	ErrPayloadTooLarge        = errors.New("outbox event payload exceeds maximum allowed size")
	ErrPayloadNotJSON         = errors.New("outbox event payload must be valid JSON")
	ErrHandlerAlreadyRegistered = errors.New("event handler already registered")
	ErrHandlerNotRegistered   = errors.New("event handler is not registered")
	ErrNoUnitOfWork           = errors.New("outbox events can only be enqueued inside a unit of work")
	ErrReadOnlyUnitOfWork     = errors.New("outbox events enqueued in a read-only unit of work")
	ErrInvalidTableName       = errors.New("invalid outbox table name")
)
