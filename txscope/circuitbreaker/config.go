package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/internal/validation"
)

// Config holds breaker thresholds.
type Config struct {
	// MaxRequests are let through while half-open.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration `validate:"gte=0"`
	// Timeout is the open-state wait before probing again.
	Timeout             time.Duration `validate:"gte=0"`
	ConsecutiveFailures uint32
	FailureRatio        float64 `validate:"gte=0,lte=1"`
	// MinRequests are needed before FailureRatio applies.
	MinRequests uint32
}

// DefaultConfig suits most connection pools.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 15,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// DatabaseConfig tolerates short network blips before opening.
func DatabaseConfig() Config {
	return Config{
		MaxRequests:         5,
		Interval:            3 * time.Minute,
		Timeout:             45 * time.Second,
		ConsecutiveFailures: 25,
		FailureRatio:        0.6,
		MinRequests:         20,
	}
}

func (c Config) validate() error {
	if c.ConsecutiveFailures == 0 && c.MinRequests == 0 {
		return fmt.Errorf("%w: consecutive failures or min requests must be set", ErrInvalidConfig)
	}

	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts are the breaker statistics of the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}
