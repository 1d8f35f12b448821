package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/txsync"
)

// ErrNilDriver is returned by NewManager without a driver.
var ErrNilDriver = errors.New("transaction driver cannot be nil")

// Manager is a PlainManager applying propagation semantics over a Driver.
type Manager struct {
	driver    Driver
	savepoint SavepointDriver
	registrar AfterCompletionRegistrar
	cfg       ManagerConfig
	logger    log.Logger
}

// NewManager builds a Manager for driver.
func NewManager(driver Driver, opts ...ManagerOption) (*Manager, error) {
	if nilcheck.Interface(driver) {
		return nil, ErrNilDriver
	}

	m := &Manager{
		driver: driver,
		cfg:    DefaultManagerConfig(),
	}

	m.savepoint, _ = driver.(SavepointDriver)
	m.registrar, _ = driver.(AfterCompletionRegistrar)

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.cfg.normalize()

	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	return m.cfg
}

//nolint:ireturn
func (m *Manager) log(ctx context.Context) log.Logger {
	if m.logger != nil {
		return m.logger
	}

	return txscope.LoggerFromContext(ctx)
}

func (m *Manager) debug(ctx context.Context, msg string, fields ...log.Field) {
	logger := m.log(ctx)
	if !logger.Enabled(log.LevelDebug) {
		return
	}

	logger.Log(ctx, log.LevelDebug, msg, append(fields, log.String("scope_id", txsync.ScopeID(ctx)))...)
}

// GetTransaction returns a status for def, beginning, joining or suspending
// as the propagation requires. The returned context carries the scope the
// transaction lives in and must be used for the transactional work and for
// Commit or Rollback.
//
//nolint:ireturn
func (m *Manager) GetTransaction(ctx context.Context, def *Definition) (context.Context, Status, error) {
	ctx = txsync.EnsureContext(ctx)

	if def == nil {
		def = &Definition{}
	}

	if err := def.Validate(); err != nil {
		return ctx, nil, err
	}

	tx, err := m.driver.DoGetTransaction(ctx)
	if err != nil {
		return ctx, nil, systemError("get transaction", err)
	}

	if m.driver.IsExistingTransaction(ctx, tx) {
		status, err := m.handleExistingTransaction(ctx, def, tx)
		if err != nil {
			return ctx, nil, err
		}

		return ctx, status, nil
	}

	switch def.Propagation {
	case PropagationMandatory:
		return ctx, nil, ErrNoExistingTransaction
	case PropagationRequired, PropagationRequiresNew, PropagationNested:
		suspended, err := m.suspend(ctx, nil)
		if err != nil {
			return ctx, nil, err
		}

		m.debug(ctx, "creating new transaction", log.String("name", def.Name), log.String("definition", def.String()))

		status, err := m.startTransaction(ctx, def, tx, suspended)
		if err != nil {
			m.resumeAfterBeginFailure(ctx, nil, suspended, err)

			return ctx, nil, err
		}

		return ctx, status, nil
	default:
		if def.Isolation != IsolationDefault {
			m.log(ctx).Log(ctx, log.LevelWarn, "custom isolation level specified but no actual transaction initiated",
				log.String("definition", def.String()))
		}

		newSynchronization := m.cfg.Synchronization == SynchronizationAlways

		return ctx, m.prepareStatus(ctx, def, nil, true, newSynchronization, nil), nil
	}
}

func (m *Manager) handleExistingTransaction(ctx context.Context, def *Definition, tx any) (*DefaultStatus, error) {
	switch def.Propagation {
	case PropagationNever:
		return nil, ErrExistingTransaction
	case PropagationNotSupported:
		m.debug(ctx, "suspending current transaction")

		suspended, err := m.suspend(ctx, tx)
		if err != nil {
			return nil, err
		}

		newSynchronization := m.cfg.Synchronization == SynchronizationAlways

		return m.prepareStatus(ctx, def, nil, false, newSynchronization, suspended), nil
	case PropagationRequiresNew:
		m.debug(ctx, "suspending current transaction, creating new transaction", log.String("name", def.Name))

		suspended, err := m.suspend(ctx, tx)
		if err != nil {
			return nil, err
		}

		status, err := m.startTransaction(ctx, def, tx, suspended)
		if err != nil {
			m.resumeAfterBeginFailure(ctx, tx, suspended, err)

			return nil, err
		}

		return status, nil
	case PropagationNested:
		if m.savepoint == nil {
			return nil, ErrNestedNotSupported
		}

		m.debug(ctx, "creating nested transaction", log.String("name", def.Name))

		status := m.newStatus(ctx, def, tx, false, false, nil)
		status.nested = true

		if err := status.createAndHoldSavepoint(ctx, m.savepoint); err != nil {
			return nil, err
		}

		return status, nil
	}

	m.debug(ctx, "participating in existing transaction")

	if m.cfg.ValidateExistingTransaction {
		if err := m.validateParticipation(ctx, def); err != nil {
			return nil, err
		}
	}

	newSynchronization := m.cfg.Synchronization != SynchronizationNever

	return m.prepareStatus(ctx, def, tx, false, newSynchronization, nil), nil
}

func (m *Manager) validateParticipation(ctx context.Context, def *Definition) error {
	if def.Isolation != IsolationDefault {
		current := txsync.CurrentTransactionIsolation(ctx)
		if current != def.Isolation.SQLLevel() {
			return fmt.Errorf("%w: participating transaction with definition [%s] specifies isolation level incompatible with existing transaction",
				ErrIllegalTransactionState, def)
		}
	}

	if !def.ReadOnly && txsync.IsCurrentTransactionReadOnly(ctx) {
		return fmt.Errorf("%w: participating transaction with definition [%s] is not marked as read-only but existing transaction is",
			ErrIllegalTransactionState, def)
	}

	return nil
}

func (m *Manager) startTransaction(ctx context.Context, def *Definition, tx any, suspended *suspendedResources) (*DefaultStatus, error) {
	newSynchronization := m.cfg.Synchronization != SynchronizationNever
	status := m.newStatus(ctx, def, tx, true, newSynchronization, suspended)

	effective := *def
	if effective.Timeout == 0 {
		effective.Timeout = m.cfg.DefaultTimeout
	}

	if err := m.driver.DoBegin(ctx, tx, &effective); err != nil {
		return nil, systemError("begin", err)
	}

	m.prepareSynchronization(ctx, status, def)

	return status, nil
}

func (m *Manager) prepareStatus(ctx context.Context, def *Definition, tx any, newTransaction, newSynchronization bool,
	suspended *suspendedResources,
) *DefaultStatus {
	status := m.newStatus(ctx, def, tx, newTransaction, newSynchronization, suspended)
	m.prepareSynchronization(ctx, status, def)

	return status
}

func (m *Manager) newStatus(ctx context.Context, def *Definition, tx any, newTransaction, newSynchronization bool,
	suspended *suspendedResources,
) *DefaultStatus {
	actualNewSynchronization := newSynchronization && !txsync.IsSynchronizationActive(ctx)

	status := NewStatus(tx, newTransaction, actualNewSynchronization, def.ReadOnly, def.Name)
	status.suspended = suspended

	return status
}

func (m *Manager) prepareSynchronization(ctx context.Context, status *DefaultStatus, def *Definition) {
	if !status.IsNewSynchronization() {
		return
	}

	txsync.SetActualTransactionActive(ctx, status.HasTransaction())

	if def.Isolation != IsolationDefault {
		txsync.SetCurrentTransactionIsolation(ctx, def.Isolation.SQLLevel())
	}

	txsync.SetCurrentTransactionReadOnly(ctx, def.ReadOnly)
	txsync.SetCurrentTransactionName(ctx, def.Name)

	if err := txsync.InitSynchronization(ctx); err != nil {
		m.log(ctx).Log(ctx, log.LevelWarn, "failed to initialize synchronization", log.Err(err))
	}
}

// suspend suspends synchronizations and, when tx is not nil, the driver
// resources of tx.
func (m *Manager) suspend(ctx context.Context, tx any) (*suspendedResources, error) {
	if txsync.IsSynchronizationActive(ctx) {
		syncs, err := txsync.TriggerSuspend(ctx)
		if err != nil {
			m.restoreSynchronizations(ctx, syncs)

			return nil, fmt.Errorf("suspending synchronizations: %w", err)
		}

		var resources any

		if tx != nil {
			resources, err = m.driver.DoSuspend(ctx, tx)
			if err != nil {
				m.restoreSynchronizations(ctx, syncs)

				return nil, systemError("suspend", err)
			}
		}

		suspended := &suspendedResources{
			resources:        resources,
			synchronizations: syncs,
			name:             txsync.CurrentTransactionName(ctx),
			readOnly:         txsync.IsCurrentTransactionReadOnly(ctx),
			isolation:        txsync.CurrentTransactionIsolation(ctx),
			wasActive:        txsync.IsActualTransactionActive(ctx),
		}

		txsync.Clear(ctx)

		return suspended, nil
	}

	if tx != nil {
		resources, err := m.driver.DoSuspend(ctx, tx)
		if err != nil {
			return nil, systemError("suspend", err)
		}

		return &suspendedResources{resources: resources}, nil
	}

	return nil, nil
}

func (m *Manager) restoreSynchronizations(ctx context.Context, syncs []txsync.Synchronization) {
	if err := txsync.TriggerResume(ctx, syncs); err != nil {
		m.log(ctx).Log(ctx, log.LevelError, "failed to restore synchronizations after suspension failure", log.Err(err))
	}
}

func (m *Manager) resume(ctx context.Context, tx any, suspended *suspendedResources) error {
	if suspended == nil {
		return nil
	}

	if suspended.resources != nil {
		if err := m.driver.DoResume(ctx, tx, suspended.resources); err != nil {
			return systemError("resume", err)
		}
	}

	if suspended.synchronizations == nil {
		return nil
	}

	txsync.SetActualTransactionActive(ctx, suspended.wasActive)
	txsync.SetCurrentTransactionIsolation(ctx, suspended.isolation)
	txsync.SetCurrentTransactionReadOnly(ctx, suspended.readOnly)
	txsync.SetCurrentTransactionName(ctx, suspended.name)

	return txsync.TriggerResume(ctx, suspended.synchronizations)
}

func (m *Manager) resumeAfterBeginFailure(ctx context.Context, tx any, suspended *suspendedResources, beginErr error) {
	if err := m.resume(ctx, tx, suspended); err != nil {
		m.log(ctx).Log(ctx, log.LevelError, "inner transaction begin failure overridden by outer transaction resume failure",
			log.NamedErr("superseded_error", beginErr),
			log.Err(err),
		)
	}
}

// Commit commits the transaction of status, or rolls it back when it was
// marked rollback-only.
func (m *Manager) Commit(ctx context.Context, status Status) error {
	ds, err := m.defaultStatus(status)
	if err != nil {
		return err
	}

	if ds.IsCompleted() {
		return ErrTransactionCompleted
	}

	if ds.IsLocalRollbackOnly() {
		m.debug(ctx, "transactional code has requested rollback")

		return m.processRollback(ctx, ds, false)
	}

	if ds.IsGlobalRollbackOnly() {
		m.debug(ctx, "global transaction is marked as rollback-only but transactional code requested commit")

		return m.processRollback(ctx, ds, true)
	}

	return m.processCommit(ctx, ds)
}

// Rollback rolls back the transaction of status. For a participating status
// the outer transaction is marked rollback-only.
func (m *Manager) Rollback(ctx context.Context, status Status) error {
	ds, err := m.defaultStatus(status)
	if err != nil {
		return err
	}

	if ds.IsCompleted() {
		return ErrTransactionCompleted
	}

	return m.processRollback(ctx, ds, false)
}

func (m *Manager) defaultStatus(status Status) (*DefaultStatus, error) {
	ds, ok := status.(*DefaultStatus)
	if !ok || ds == nil {
		return nil, fmt.Errorf("%w: status %T was not created by this manager", ErrIllegalTransactionState, status)
	}

	return ds, nil
}

func (m *Manager) processCommit(ctx context.Context, status *DefaultStatus) (err error) {
	defer m.cleanupAfterCompletion(ctx, status)

	if err := m.triggerBeforeCommit(ctx, status); err != nil {
		m.triggerBeforeCompletion(ctx, status)

		return m.rollbackOnCommitException(ctx, status, err)
	}

	m.triggerBeforeCompletion(ctx, status)

	unexpectedRollback := false

	switch {
	case status.HasSavepoint():
		m.debug(ctx, "releasing transaction savepoint")

		unexpectedRollback = status.IsGlobalRollbackOnly()

		if err := status.releaseHeldSavepoint(ctx, m.savepoint); err != nil {
			return m.commitFailed(ctx, status, err)
		}
	case status.IsNewTransaction():
		m.debug(ctx, "initiating transaction commit")

		unexpectedRollback = status.IsGlobalRollbackOnly()

		if err := m.driver.DoCommit(ctx, status); err != nil {
			return m.commitFailed(ctx, status, systemError("commit", err))
		}
	case m.cfg.FailEarlyOnGlobalRollbackOnly:
		unexpectedRollback = status.IsGlobalRollbackOnly()
	}

	if unexpectedRollback {
		m.triggerAfterCompletion(ctx, status, txsync.StatusRolledBack)

		return ErrUnexpectedRollback
	}

	afterCommitErr := m.triggerAfterCommit(ctx, status)

	m.triggerAfterCompletion(ctx, status, txsync.StatusCommitted)

	return afterCommitErr
}

func (m *Manager) commitFailed(ctx context.Context, status *DefaultStatus, err error) error {
	if m.cfg.RollbackOnCommitFailure {
		return m.rollbackOnCommitException(ctx, status, err)
	}

	m.triggerAfterCompletion(ctx, status, txsync.StatusUnknown)

	return err
}

// rollbackOnCommitException rolls back after a failure during commit and
// returns the error the caller should see.
func (m *Manager) rollbackOnCommitException(ctx context.Context, status *DefaultStatus, cause error) error {
	var rollbackErr error

	switch {
	case status.IsNewTransaction():
		m.debug(ctx, "initiating transaction rollback after commit exception", log.Err(cause))

		rollbackErr = m.driver.DoRollback(ctx, status)
	case status.HasTransaction() && m.cfg.GlobalRollbackOnParticipationFailure:
		m.debug(ctx, "marking existing transaction as rollback-only after commit exception", log.Err(cause))

		rollbackErr = m.driver.DoSetRollbackOnly(ctx, status)
	}

	if rollbackErr != nil {
		m.log(ctx).Log(ctx, log.LevelError, "commit exception overridden by rollback exception",
			log.NamedErr("superseded_error", cause),
			log.Err(rollbackErr),
		)

		m.triggerAfterCompletion(ctx, status, txsync.StatusUnknown)

		return systemError("rollback", rollbackErr)
	}

	m.triggerAfterCompletion(ctx, status, txsync.StatusRolledBack)

	return cause
}

func (m *Manager) processRollback(ctx context.Context, status *DefaultStatus, unexpected bool) error {
	defer m.cleanupAfterCompletion(ctx, status)

	unexpectedRollback := unexpected

	m.triggerBeforeCompletion(ctx, status)

	var err error

	switch {
	case status.HasSavepoint():
		m.debug(ctx, "rolling back transaction to savepoint")

		err = status.rollbackToHeldSavepoint(ctx, m.savepoint)
	case status.IsNewTransaction():
		m.debug(ctx, "initiating transaction rollback")

		err = systemError("rollback", m.driver.DoRollback(ctx, status))
	default:
		if status.HasTransaction() {
			if status.IsLocalRollbackOnly() || m.cfg.GlobalRollbackOnParticipationFailure {
				m.debug(ctx, "participating transaction failed, marking existing transaction as rollback-only")

				err = systemError("set rollback-only", m.driver.DoSetRollbackOnly(ctx, status))
			} else {
				m.debug(ctx, "participating transaction failed, letting transaction originator decide on rollback")
			}
		} else {
			m.debug(ctx, "should roll back transaction but cannot, no transaction available")
		}

		if !m.cfg.FailEarlyOnGlobalRollbackOnly {
			unexpectedRollback = false
		}
	}

	if err != nil {
		m.triggerAfterCompletion(ctx, status, txsync.StatusUnknown)

		return err
	}

	m.triggerAfterCompletion(ctx, status, txsync.StatusRolledBack)

	if unexpectedRollback {
		return ErrUnexpectedRollback
	}

	return nil
}

func (m *Manager) triggerBeforeCommit(ctx context.Context, status *DefaultStatus) error {
	if !status.IsNewSynchronization() {
		return nil
	}

	return txsync.TriggerBeforeCommit(ctx, status.IsReadOnly())
}

// triggerBeforeCompletion logs failures; completion goes ahead regardless.
func (m *Manager) triggerBeforeCompletion(ctx context.Context, status *DefaultStatus) {
	if !status.IsNewSynchronization() {
		return
	}

	if err := txsync.TriggerBeforeCompletion(ctx); err != nil {
		m.log(ctx).Log(ctx, log.LevelError, "before-completion synchronization failed", log.Err(err))
	}
}

func (m *Manager) triggerAfterCommit(ctx context.Context, status *DefaultStatus) error {
	if !status.IsNewSynchronization() {
		return nil
	}

	return txsync.TriggerAfterCommit(ctx)
}

// triggerAfterCompletion deactivates synchronization before invoking the
// callbacks, so they cannot register new ones. Failures are logged: the
// outcome is already final.
func (m *Manager) triggerAfterCompletion(ctx context.Context, status *DefaultStatus, completion txsync.CompletionStatus) {
	if !status.IsNewSynchronization() {
		return
	}

	syncs, err := txsync.Synchronizations(ctx)
	if err != nil {
		return
	}

	_ = txsync.ClearSynchronization(ctx)

	if !status.HasTransaction() || status.IsNewTransaction() {
		m.invokeAfterCompletion(ctx, syncs, completion)

		return
	}

	if len(syncs) == 0 {
		return
	}

	if m.registrar != nil {
		if err := m.registrar.RegisterAfterCompletion(ctx, status.Transaction(), syncs); err == nil {
			return
		}
	}

	m.invokeAfterCompletion(ctx, syncs, txsync.StatusUnknown)
}

func (m *Manager) invokeAfterCompletion(ctx context.Context, syncs []txsync.Synchronization, completion txsync.CompletionStatus) {
	if err := txsync.InvokeAfterCompletion(ctx, syncs, completion); err != nil {
		m.log(ctx).Log(ctx, log.LevelError, "after-completion synchronization failed",
			log.String("completion", completion.String()),
			log.Err(err),
		)
	}
}

func (m *Manager) cleanupAfterCompletion(ctx context.Context, status *DefaultStatus) {
	status.setCompleted()

	if status.IsNewSynchronization() {
		txsync.Clear(ctx)
	}

	if status.IsNewTransaction() {
		m.driver.DoCleanupAfterCompletion(ctx, status.Transaction())
	}

	if status.suspended != nil {
		m.debug(ctx, "resuming suspended transaction after completion of inner transaction")

		var tx any
		if status.HasTransaction() {
			tx = status.Transaction()
		}

		if err := m.resume(ctx, tx, status.suspended); err != nil {
			m.log(ctx).Log(ctx, log.LevelError, "failed to resume suspended transaction", log.Err(err))
		}
	}
}
