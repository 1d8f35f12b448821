package mongodb

import "errors"

var (
	ErrNilClient            = errors.New("mongo client cannot be nil")
	ErrNilStarter           = errors.New("session starter cannot be nil")
	ErrNilFactory           = errors.New("mongodb factory cannot be nil")
	ErrInvalidConfig        = errors.New("invalid mongodb config")
	ErrUnexpectedHandle     = errors.New("unexpected handle type for mongodb factory")
	ErrNoTransaction        = errors.New("no mongodb transaction in progress")
	ErrSessionEnded         = errors.New("mongodb session already ended")
	ErrIsolationUnsupported = errors.New("mongodb transactions do not support custom isolation levels")
)
