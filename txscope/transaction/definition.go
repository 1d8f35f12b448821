package transaction

import (
	"database/sql"
	"fmt"
	"time"
)

// Propagation decides how a call relates to a transaction already in
// progress.
type Propagation int

const (
	// PropagationRequired joins the current transaction or creates one.
	PropagationRequired Propagation = iota
	// PropagationSupports joins the current transaction or runs without one.
	PropagationSupports
	// PropagationMandatory joins the current transaction or fails.
	PropagationMandatory
	// PropagationRequiresNew suspends the current transaction, if any, and
	// creates a new one.
	PropagationRequiresNew
	// PropagationNotSupported suspends the current transaction, if any, and
	// runs without one.
	PropagationNotSupported
	// PropagationNever runs without a transaction and fails if one exists.
	PropagationNever
	// PropagationNested runs in a savepoint of the current transaction, or
	// behaves like PropagationRequired without one.
	PropagationNested
)

var propagationNames = map[Propagation]string{
	PropagationRequired:     "PROPAGATION_REQUIRED",
	PropagationSupports:     "PROPAGATION_SUPPORTS",
	PropagationMandatory:    "PROPAGATION_MANDATORY",
	PropagationRequiresNew:  "PROPAGATION_REQUIRES_NEW",
	PropagationNotSupported: "PROPAGATION_NOT_SUPPORTED",
	PropagationNever:        "PROPAGATION_NEVER",
	PropagationNested:       "PROPAGATION_NESTED",
}

func (p Propagation) String() string {
	if name, ok := propagationNames[p]; ok {
		return name
	}

	return fmt.Sprintf("PROPAGATION(%d)", int(p))
}

// IsValid reports whether p is one of the declared values.
func (p Propagation) IsValid() bool {
	_, ok := propagationNames[p]

	return ok
}

// Isolation is the isolation level requested for a new transaction.
type Isolation int

const (
	IsolationDefault Isolation = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

var isolationNames = map[Isolation]string{
	IsolationDefault:         "ISOLATION_DEFAULT",
	IsolationReadUncommitted: "ISOLATION_READ_UNCOMMITTED",
	IsolationReadCommitted:   "ISOLATION_READ_COMMITTED",
	IsolationRepeatableRead:  "ISOLATION_REPEATABLE_READ",
	IsolationSerializable:    "ISOLATION_SERIALIZABLE",
}

func (i Isolation) String() string {
	if name, ok := isolationNames[i]; ok {
		return name
	}

	return fmt.Sprintf("ISOLATION(%d)", int(i))
}

// SQLLevel maps i to the database/sql isolation level.
func (i Isolation) SQLLevel() sql.IsolationLevel {
	switch i {
	case IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case IsolationReadCommitted:
		return sql.LevelReadCommitted
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// Definition describes the transaction a call wants. The zero value is
// PropagationRequired with default isolation and no timeout.
type Definition struct {
	Propagation Propagation
	Isolation   Isolation
	// Timeout bounds a new transaction. Zero means the manager default.
	Timeout  time.Duration
	ReadOnly bool
	// Name shows up in logs and as the current transaction name.
	Name string
}

// Validate checks the definition before a transaction is started.
func (d *Definition) Validate() error {
	if d == nil {
		return nil
	}

	if !d.Propagation.IsValid() {
		return fmt.Errorf("%w: unknown propagation %d", ErrInvalidAttributes, int(d.Propagation))
	}

	if _, ok := isolationNames[d.Isolation]; !ok {
		return fmt.Errorf("%w: unknown isolation %d", ErrInvalidAttributes, int(d.Isolation))
	}

	if d.Timeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, d.Timeout)
	}

	return nil
}

func (d *Definition) String() string {
	if d == nil {
		return "<nil>"
	}

	s := d.Propagation.String() + "," + d.Isolation.String()

	if d.Timeout > 0 {
		s += fmt.Sprintf(",timeout_%d", int(d.Timeout/time.Second))
	}

	if d.ReadOnly {
		s += ",readOnly"
	}

	return s
}
