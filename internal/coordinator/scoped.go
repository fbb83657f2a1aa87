package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/quadsync/internal/store"
	"github.com/kalambet/quadsync/internal/txn"
)

// ScopedTxn is a scoped-acquisition handle for callers that queue
// heterogeneous operations themselves instead of using the single-document
// convenience API. Queue operations, then Commit exactly once; Close rolls
// back anything committed if Commit never ran (or failed).
//
//	tx := coord.Begin()
//	defer tx.Close(ctx)
//	tx.QueueCreate(store.RoleRelational, doc)
//	tx.QueueCreate(store.RoleVector, doc)
//	if _, err := tx.Commit(ctx); err != nil { ... }
type ScopedTxn struct {
	coord    *Coordinator
	txn      *txn.Transaction
	finished bool
}

// Begin opens a scoped transaction handle.
func (c *Coordinator) Begin() *ScopedTxn {
	t := txn.New()
	c.registry.Add(t)
	return &ScopedTxn{coord: c, txn: t}
}

// ID returns the underlying transaction ID.
func (s *ScopedTxn) ID() string { return s.txn.ID }

// QueueCreate queues a create/replace of doc in the given store.
func (s *ScopedTxn) QueueCreate(role store.Role, doc *store.Document) {
	s.queue(txn.KindCreate, role, doc)
}

// QueueUpdate queues an update of doc in the given store.
func (s *ScopedTxn) QueueUpdate(role store.Role, doc *store.Document) {
	s.queue(txn.KindUpdate, role, doc)
}

// QueueDelete queues a delete of the document in the given store.
func (s *ScopedTxn) QueueDelete(role store.Role, doc *store.Document) {
	s.queue(txn.KindDelete, role, doc)
}

func (s *ScopedTxn) queue(kind txn.Kind, role store.Role, doc *store.Document) {
	s.txn.Add(txn.NewOperation(kind, role, doc.Clone()))
}

// Commit executes the queued operations through the coordinator's phase
// machinery: critical-store operations first, sequentially and in queue
// order, then optional-store operations concurrently behind their breakers.
// A critical failure rolls back committed operations and returns an
// *AtomicFailureError. The handle is finished either way.
func (s *ScopedTxn) Commit(ctx context.Context) (*txn.SyncResult, error) {
	if s.finished {
		return nil, errors.New("transaction already finished")
	}
	if len(s.txn.Operations) == 0 {
		return nil, errors.New("no operations queued")
	}
	s.finished = true
	defer s.coord.registry.Remove(s.txn.ID)

	c := s.coord
	t := s.txn
	t.Begin(c.now())

	result := &txn.SyncResult{
		DocID:         t.Operations[0].Doc.ID,
		TransactionID: t.ID,
	}

	for _, op := range t.Operations {
		if !op.Role.Critical() {
			continue
		}
		if op.Kind == txn.KindDelete && op.Role == store.RoleRelational {
			op.Snapshot = c.snapshotForDelete(ctx, op.Doc.ID)
		}
		if err := c.dispatch(ctx, op); err != nil {
			return c.failCritical(ctx, t, result, t.StartedAt, op.Role, err)
		}
		result.AffectedStores = appendRole(result.AffectedStores, op.Role)
	}

	done := make(chan *txn.Operation, len(t.Operations))
	dispatched := 0
	for _, op := range t.Operations {
		if op.Role.Critical() {
			continue
		}
		dispatched++
		go func(op *txn.Operation) {
			c.dispatchOptional(ctx, op)
			done <- op
		}(op)
	}
	for i := 0; i < dispatched; i++ {
		op := <-done
		switch op.Status {
		case txn.OpCommitted:
			result.AffectedStores = appendRole(result.AffectedStores, op.Role)
		case txn.OpFailed:
			result.DegradedStores = appendRole(result.DegradedStores, op.Role)
			if impact, ok := functionalityImpact[op.Role]; ok {
				result.FunctionalityImpact = append(result.FunctionalityImpact, impact)
			}
		}
	}

	result.Success = true
	if len(result.DegradedStores) > 0 {
		result.SystemStatus = txn.StatusDegraded
	} else {
		result.SystemStatus = txn.StatusHealthy
	}
	t.Finish(txn.TxnCommitted, c.now())
	result.ExecutionTime = t.CompletedAt.Sub(t.StartedAt)
	return result, nil
}

// Rollback undoes any committed operations and finishes the handle.
func (s *ScopedTxn) Rollback(ctx context.Context) error {
	if s.finished {
		return errors.New("transaction already finished")
	}
	s.finished = true
	defer s.coord.registry.Remove(s.txn.ID)

	remaining := s.coord.rollback(ctx, s.txn)
	s.txn.Finish(txn.TxnRolledBack, s.coord.now())
	if len(remaining) > 0 {
		return &RollbackError{TransactionID: s.txn.ID, Remaining: remaining}
	}
	return nil
}

// Close rolls back when the handle was never committed. Safe to defer
// unconditionally; a finished handle is a no-op.
func (s *ScopedTxn) Close(ctx context.Context) error {
	if s.finished {
		return nil
	}
	if err := s.Rollback(ctx); err != nil {
		var rbErr *RollbackError
		if errors.As(err, &rbErr) {
			return fmt.Errorf("closing unfinished transaction: %w", err)
		}
		return err
	}
	return nil
}

func appendRole(roles []store.Role, role store.Role) []store.Role {
	for _, r := range roles {
		if r == role {
			return roles
		}
	}
	return append(roles, role)
}
