package transaction

import (
	"context"
	"database/sql"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

// Status is the handle to one transactional call, returned by
// PlainManager.GetTransaction and passed back to Commit or Rollback.
type Status interface {
	IsNewTransaction() bool
	HasSavepoint() bool
	SetRollbackOnly()
	IsRollbackOnly() bool
	IsCompleted() bool
	Name() string
}

// RollbackOnlyReporter is implemented by driver transaction objects that can
// be marked rollback-only by a participant.
type RollbackOnlyReporter interface {
	IsRollbackOnly() bool
}

// DefaultStatus is the Status used by Manager.
type DefaultStatus struct {
	transaction        any
	newTransaction     bool
	newSynchronization bool
	nested             bool
	readOnly           bool
	name               string
	suspended          *suspendedResources

	mu           sync.Mutex
	rollbackOnly bool
	completed    bool
	savepoint    any
}

// suspendedResources is what a suspension hands back to resume.
type suspendedResources struct {
	resources        any
	synchronizations []txsync.Synchronization
	name             string
	readOnly         bool
	isolation        sql.IsolationLevel
	wasActive        bool
}

// NewStatus builds a status. It is exported for drivers and tests that
// drive completion by hand.
func NewStatus(transaction any, newTransaction, newSynchronization, readOnly bool, name string) *DefaultStatus {
	return &DefaultStatus{
		transaction:        transaction,
		newTransaction:     newTransaction,
		newSynchronization: newSynchronization,
		readOnly:           readOnly,
		name:               name,
	}
}

// Transaction returns the driver transaction object, or nil for an empty
// transaction.
func (s *DefaultStatus) Transaction() any {
	return s.transaction
}

// HasTransaction reports whether a driver transaction object is attached.
func (s *DefaultStatus) HasTransaction() bool {
	return s.transaction != nil
}

func (s *DefaultStatus) IsNewTransaction() bool {
	return s.HasTransaction() && s.newTransaction
}

// IsNewSynchronization reports whether this status activated
// synchronization and therefore owns its completion.
func (s *DefaultStatus) IsNewSynchronization() bool {
	return s.newSynchronization
}

func (s *DefaultStatus) IsNested() bool {
	return s.nested
}

func (s *DefaultStatus) IsReadOnly() bool {
	return s.readOnly
}

func (s *DefaultStatus) Name() string {
	return s.name
}

func (s *DefaultStatus) SetRollbackOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollbackOnly = true
}

// IsLocalRollbackOnly reports whether SetRollbackOnly was called on this
// status.
func (s *DefaultStatus) IsLocalRollbackOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rollbackOnly
}

// IsGlobalRollbackOnly reports whether a participant marked the whole
// transaction rollback-only.
func (s *DefaultStatus) IsGlobalRollbackOnly() bool {
	reporter, ok := s.transaction.(RollbackOnlyReporter)

	return ok && reporter.IsRollbackOnly()
}

func (s *DefaultStatus) IsRollbackOnly() bool {
	return s.IsLocalRollbackOnly() || s.IsGlobalRollbackOnly()
}

func (s *DefaultStatus) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.completed
}

func (s *DefaultStatus) setCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = true
}

func (s *DefaultStatus) HasSavepoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.savepoint != nil
}

func (s *DefaultStatus) createAndHoldSavepoint(ctx context.Context, driver SavepointDriver) error {
	savepoint, err := driver.CreateSavepoint(ctx, s.transaction)
	if err != nil {
		return systemError("create savepoint", err)
	}

	s.mu.Lock()
	s.savepoint = savepoint
	s.mu.Unlock()

	return nil
}

func (s *DefaultStatus) takeSavepoint() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	savepoint := s.savepoint
	s.savepoint = nil

	return savepoint
}

func (s *DefaultStatus) rollbackToHeldSavepoint(ctx context.Context, driver SavepointDriver) error {
	savepoint := s.takeSavepoint()
	if savepoint == nil {
		return ErrIllegalTransactionState
	}

	if err := driver.RollbackToSavepoint(ctx, s.transaction, savepoint); err != nil {
		return systemError("rollback to savepoint", err)
	}

	if err := driver.ReleaseSavepoint(ctx, s.transaction, savepoint); err != nil {
		return systemError("release savepoint", err)
	}

	return nil
}

func (s *DefaultStatus) releaseHeldSavepoint(ctx context.Context, driver SavepointDriver) error {
	savepoint := s.takeSavepoint()
	if savepoint == nil {
		return ErrIllegalTransactionState
	}

	return systemError("release savepoint", driver.ReleaseSavepoint(ctx, s.transaction, savepoint))
}
