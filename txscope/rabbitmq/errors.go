package rabbitmq

import "errors"

var (
	ErrNilOpener      = errors.New("rabbitmq channel opener cannot be nil")
	ErrNilConnection  = errors.New("rabbitmq connection cannot be nil")
	ErrInvalidConfig  = errors.New("invalid rabbitmq config")
	ErrEmptyRoute     = errors.New("exchange or routing key is required")
	ErrTxSelect       = errors.New("enabling transaction mode on channel")
	ErrChannelCommit  = errors.New("committing channel transaction")
	ErrUnexpectedBind = errors.New("unexpected resource bound for publisher")
)
