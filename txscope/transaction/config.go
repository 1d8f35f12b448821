package transaction

import (
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// ManagerConfig controls Manager behavior.
type ManagerConfig struct {
	// Synchronization decides when synchronization is activated.
	Synchronization SynchronizationMode
	// DefaultTimeout applies to new transactions whose definition has none.
	// Zero means no timeout.
	DefaultTimeout time.Duration
	// ValidateExistingTransaction rejects participation when the definition
	// asks for a different isolation level or for read-write access inside
	// a read-only transaction.
	ValidateExistingTransaction bool
	// GlobalRollbackOnParticipationFailure marks the outer transaction
	// rollback-only when a participating call fails.
	GlobalRollbackOnParticipationFailure bool
	// FailEarlyOnGlobalRollbackOnly returns ErrUnexpectedRollback from the
	// first participant that commits a rollback-only transaction instead of
	// from the outermost one.
	FailEarlyOnGlobalRollbackOnly bool
	// RollbackOnCommitFailure rolls back when the physical commit fails.
	RollbackOnCommitFailure bool
}

// DefaultManagerConfig returns the baseline manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Synchronization:                      SynchronizationAlways,
		DefaultTimeout:                       0,
		ValidateExistingTransaction:          false,
		GlobalRollbackOnParticipationFailure: true,
		FailEarlyOnGlobalRollbackOnly:        false,
		RollbackOnCommitFailure:              false,
	}
}

func (cfg *ManagerConfig) normalize() {
	if cfg.DefaultTimeout < 0 {
		cfg.DefaultTimeout = 0
	}

	if cfg.Synchronization < SynchronizationAlways || cfg.Synchronization > SynchronizationNever {
		cfg.Synchronization = SynchronizationAlways
	}
}

// ManagerOption mutates manager configuration at construction.
type ManagerOption func(*Manager)

// WithSynchronization sets when synchronization is activated.
func WithSynchronization(mode SynchronizationMode) ManagerOption {
	return func(m *Manager) {
		m.cfg.Synchronization = mode
	}
}

// WithDefaultTimeout sets the timeout of definitions without one.
func WithDefaultTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.cfg.DefaultTimeout = timeout
		}
	}
}

// WithValidateExistingTransaction toggles participation validation.
func WithValidateExistingTransaction(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.cfg.ValidateExistingTransaction = enabled
	}
}

// WithGlobalRollbackOnParticipationFailure toggles marking the outer
// transaction rollback-only when a participant fails.
func WithGlobalRollbackOnParticipationFailure(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.cfg.GlobalRollbackOnParticipationFailure = enabled
	}
}

// WithFailEarlyOnGlobalRollbackOnly toggles early ErrUnexpectedRollback.
func WithFailEarlyOnGlobalRollbackOnly(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.cfg.FailEarlyOnGlobalRollbackOnly = enabled
	}
}

// WithRollbackOnCommitFailure toggles rollback after a failed commit.
func WithRollbackOnCommitFailure(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.cfg.RollbackOnCommitFailure = enabled
	}
}

// WithLogger sets the manager logger. Without one the context logger is
// used.
func WithLogger(logger log.Logger) ManagerOption {
	return func(m *Manager) {
		if nilcheck.Interface(logger) {
			m.logger = nil

			return
		}

		m.logger = logger
	}
}
