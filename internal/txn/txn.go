// Package txn holds the value types for cross-store sync transactions: one
// Transaction per logical document write, one Operation per target store.
// The types do status bookkeeping only; sequencing lives in the coordinator.
package txn

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/quadsync/internal/store"
)

// Kind is the action an operation performs against its store.
type Kind string

const (
	KindCreate   Kind = "create"
	KindUpdate   Kind = "update"
	KindDelete   Kind = "delete"
	KindRetrieve Kind = "retrieve"
)

// OpStatus is the lifecycle state of a single store operation.
type OpStatus string

const (
	OpPending    OpStatus = "pending"
	OpInProgress OpStatus = "in_progress"
	OpCommitted  OpStatus = "committed"
	OpFailed     OpStatus = "failed"
)

// Terminal reports whether the status is one an operation never leaves.
func (s OpStatus) Terminal() bool {
	return s == OpCommitted || s == OpFailed
}

// Operation is one store-directed action inside a Transaction. It is owned
// exclusively by its Transaction and never shared across transactions.
type Operation struct {
	ID          string
	Kind        Kind
	Role        store.Role
	Doc         *store.Document
	Status      OpStatus
	Err         string
	StartedAt   time.Time
	CompletedAt time.Time

	// Snapshot holds the document state read before a delete, so rollback
	// can restore it. Nil for create/update operations.
	Snapshot *store.Document
}

// NewOperation builds a pending operation for the given store role.
func NewOperation(kind Kind, role store.Role, doc *store.Document) *Operation {
	return &Operation{
		ID:     uuid.New().String(),
		Kind:   kind,
		Role:   role,
		Doc:    doc,
		Status: OpPending,
	}
}

// Start marks the operation dispatched to its store adapter.
func (o *Operation) Start(now time.Time) {
	o.Status = OpInProgress
	o.StartedAt = now
}

// Commit marks the operation's adapter call as succeeded.
func (o *Operation) Commit(now time.Time) {
	o.Status = OpCommitted
	o.CompletedAt = now
}

// Fail marks the operation's adapter call as failed, capturing the error text.
func (o *Operation) Fail(now time.Time, err error) {
	o.Status = OpFailed
	o.CompletedAt = now
	if err != nil {
		o.Err = err.Error()
	}
}

// Duration returns the elapsed wall-clock time between dispatch and
// completion, or zero if the operation never completed.
func (o *Operation) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.CompletedAt.IsZero() {
		return 0
	}
	return o.CompletedAt.Sub(o.StartedAt)
}

// TxnStatus is the lifecycle state of a Transaction.
type TxnStatus string

const (
	TxnPending    TxnStatus = "pending"
	TxnInProgress TxnStatus = "in_progress"
	TxnCommitted  TxnStatus = "committed"
	TxnFailed     TxnStatus = "failed"
	TxnRolledBack TxnStatus = "rolled_back"
)

// Terminal reports whether the status is one a transaction never leaves.
func (s TxnStatus) Terminal() bool {
	return s == TxnCommitted || s == TxnFailed || s == TxnRolledBack
}

// Transaction is one logical document write fanned out across stores. It is
// owned by the coordinator for its lifetime, registered in the coordinator's
// in-memory table while in flight, and never persisted.
type Transaction struct {
	ID                string
	Operations        []*Operation
	Status            TxnStatus
	StartedAt         time.Time
	CompletedAt       time.Time
	RollbackAttempted bool
	RollbackSucceeded bool
}

// New builds a pending transaction with a fresh ID.
func New() *Transaction {
	return &Transaction{
		ID:     uuid.New().String(),
		Status: TxnPending,
	}
}

// Add appends an operation to the transaction and returns it.
func (t *Transaction) Add(op *Operation) *Operation {
	t.Operations = append(t.Operations, op)
	return op
}

// Begin marks the transaction in progress.
func (t *Transaction) Begin(now time.Time) {
	t.Status = TxnInProgress
	t.StartedAt = now
}

// Finish sets a terminal status and the completion timestamp.
func (t *Transaction) Finish(status TxnStatus, now time.Time) {
	t.Status = status
	t.CompletedAt = now
}

// Committed returns the operations that reached committed status, in the
// order they were executed.
func (t *Transaction) Committed() []*Operation {
	var out []*Operation
	for _, op := range t.Operations {
		if op.Status == OpCommitted {
			out = append(out, op)
		}
	}
	return out
}

// ByRole returns the first operation targeting the given role, or nil.
func (t *Transaction) ByRole(role store.Role) *Operation {
	for _, op := range t.Operations {
		if op.Role == role {
			return op
		}
	}
	return nil
}
