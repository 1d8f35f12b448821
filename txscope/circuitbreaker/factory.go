package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/resource"
	"github.com/sony/gobreaker"
)

// Factory guards the NewHandle calls of a delegate factory.
type Factory struct {
	delegate resource.Factory
	breaker  *gobreaker.CircuitBreaker
	name     string
	logger   log.Logger
	onChange func(from, to State)
}

// Option configures a Factory.
type Option func(*Factory)

// WithName labels the breaker in logs.
func WithName(name string) Option {
	return func(f *Factory) {
		if name != "" {
			f.name = name
		}
	}
}

func WithLogger(logger log.Logger) Option {
	return func(f *Factory) {
		if !nilcheck.Interface(logger) {
			f.logger = logger
		}
	}
}

// WithStateChangeListener is called on every breaker transition.
func WithStateChangeListener(listener func(from, to State)) Option {
	return func(f *Factory) {
		f.onChange = listener
	}
}

// NewFactory wraps delegate. Cancelled or timed out acquisitions do not
// count as failures.
func NewFactory(delegate resource.Factory, cfg Config, opts ...Option) (*Factory, error) {
	if nilcheck.Interface(delegate) {
		return nil, ErrNilDelegate
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	f := &Factory{delegate: delegate, name: fmt.Sprintf("%T", delegate), logger: log.NewNop()}

	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        f.name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}

			if cfg.MinRequests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}

			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			f.stateChanged(stateOf(from), stateOf(to))
		},
	})

	return f, nil
}

func (f *Factory) stateChanged(from, to State) {
	level := log.LevelInfo
	if to == StateOpen {
		level = log.LevelWarn
	}

	f.logger.Log(context.Background(), level, "circuit breaker state changed",
		log.String("breaker", f.name),
		log.String("from", string(from)),
		log.String("to", string(to)),
	)

	if f.onChange != nil {
		f.onChange(from, to)
	}
}

// NewHandle asks the delegate for a handle unless the breaker is open.
//
//nolint:ireturn
func (f *Factory) NewHandle(ctx context.Context) (resource.Handle, error) {
	result, err := f.breaker.Execute(func() (any, error) {
		return f.delegate.NewHandle(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %w", ErrOpen, f.name, err)
		}

		return nil, err
	}

	h, _ := result.(resource.Handle)

	return h, nil
}

// Unwrap makes the delegate the registry key of this factory.
func (f *Factory) Unwrap() any {
	return f.delegate
}

// NestingDepth is one more than the delegate's.
func (f *Factory) NestingDepth() int {
	if nested, ok := f.delegate.(resource.NestingDepth); ok {
		return nested.NestingDepth() + 1
	}

	return 1
}

// ShouldClose defers to the delegate.
func (f *Factory) ShouldClose(h resource.Handle) bool {
	if vetoer, ok := f.delegate.(resource.CloseVetoer); ok {
		return vetoer.ShouldClose(h)
	}

	return true
}

func (f *Factory) State() State {
	return stateOf(f.breaker.State())
}

func (f *Factory) Counts() Counts {
	c := f.breaker.Counts()

	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
