// Package coordinator implements the atomic cross-store synchronization
// engine: a single logical document is fanned out to the relational, vector,
// graph and cache stores. The two critical stores (relational, vector) must
// both accept the write or the whole transaction fails and is rolled back;
// the two optional stores (graph, cache) sit behind circuit breakers and may
// degrade without failing the transaction.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/quadsync/internal/breaker"
	"github.com/kalambet/quadsync/internal/store"
	"github.com/kalambet/quadsync/internal/txn"
)

// defaultCallTimeout bounds every individual adapter call so a hung store
// fails the operation instead of stalling the whole phase.
const defaultCallTimeout = 5 * time.Second

// Stores holds one adapter per store role as explicit fields. Unset optional
// adapters are skipped; unset critical adapters fail the transaction.
type Stores struct {
	Relational store.Adapter
	Vector     store.Adapter
	Graph      store.Adapter
	Cache      store.Adapter
}

// For returns the adapter for a role, or nil when not wired.
func (s Stores) For(role store.Role) store.Adapter {
	switch role {
	case store.RoleRelational:
		return s.Relational
	case store.RoleVector:
		return s.Vector
	case store.RoleGraph:
		return s.Graph
	case store.RoleCache:
		return s.Cache
	}
	return nil
}

// Options tunes a Coordinator. The zero value gives defaults.
type Options struct {
	// CallTimeout is the hard per-adapter-call deadline. Defaults to 5s.
	CallTimeout time.Duration
	// SkipPostWriteValidation disables the consistency check that normally
	// runs after a fully healthy write.
	SkipPostWriteValidation bool
	// Breakers overrides the circuit breaker manager (tests).
	Breakers *breaker.Manager
	// Registry overrides the active-transaction table (tests).
	Registry *Registry
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Coordinator orchestrates synchronized writes across the four stores.
// A single instance serves concurrent callers; each transaction and its
// operations are exclusively owned by the call that created them.
type Coordinator struct {
	stores      Stores
	breakers    *breaker.Manager
	registry    *Registry
	validator   *Validator
	callTimeout time.Duration
	validate    bool
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Coordinator over the given stores.
func New(stores Stores, opts Options) *Coordinator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Breakers == nil {
		opts.Breakers = breaker.NewManager()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		stores:      stores,
		breakers:    opts.Breakers,
		registry:    opts.Registry,
		validator:   NewValidator(stores),
		callTimeout: opts.CallTimeout,
		validate:    !opts.SkipPostWriteValidation,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// functionalityImpact maps a degraded optional store to what the caller
// loses while it is down.
var functionalityImpact = map[store.Role]string{
	store.RoleGraph: "relationship queries unavailable",
	store.RoleCache: "cached reads unavailable, reads fall back to primary storage",
}

// StoreDocument synchronizes one document into all four stores.
//
// The result is always non-nil for a dispatched transaction. A critical
// store failure returns the failed result together with an
// *AtomicFailureError; an optional store failure returns a successful but
// degraded result and no error. An otherwise successful write that blows the
// single-operation SLA returns the result together with an
// *SLAExceededError (branch with errors.As).
func (c *Coordinator) StoreDocument(ctx context.Context, doc *store.Document) (*txn.SyncResult, error) {
	if doc == nil || doc.ID == "" {
		return nil, errors.New("document must have an ID")
	}
	doc = withTimestamps(doc.Clone(), c.now().UTC())

	t := txn.New()
	for _, role := range store.AllRoles() {
		t.Add(txn.NewOperation(txn.KindCreate, role, doc))
	}

	result, err := c.run(ctx, t, doc.ID)
	if err != nil {
		return result, err
	}
	if slaErr := checkSLA("single_operation", result.ExecutionTime); slaErr != nil {
		return result, slaErr
	}
	return result, nil
}

// DeleteDocument removes a document from all four stores with the same
// atomicity contract as StoreDocument. The relational state is snapshotted
// first so a critical-phase failure can restore already-deleted copies.
func (c *Coordinator) DeleteDocument(ctx context.Context, id string) (*txn.SyncResult, error) {
	if id == "" {
		return nil, errors.New("document ID is required")
	}

	snapshot := c.snapshotForDelete(ctx, id)
	doc := snapshot
	if doc == nil {
		doc = &store.Document{ID: id}
	}

	t := txn.New()
	for _, role := range store.AllRoles() {
		op := txn.NewOperation(txn.KindDelete, role, doc)
		op.Snapshot = snapshot
		t.Add(op)
	}

	result, err := c.run(ctx, t, id)
	if err != nil {
		return result, err
	}
	if slaErr := checkSLA("single_operation", result.ExecutionTime); slaErr != nil {
		return result, slaErr
	}
	return result, nil
}

// BatchStore synchronizes documents strictly sequentially and stops at the
// first atomic failure; each document's transaction is independently atomic
// and no cross-document rollback is attempted. The returned slice holds one
// result per processed document.
func (c *Coordinator) BatchStore(ctx context.Context, docs []*store.Document) ([]*txn.SyncResult, error) {
	start := c.now()
	var results []*txn.SyncResult

	for _, doc := range docs {
		result, err := c.StoreDocument(ctx, doc)
		if result != nil {
			results = append(results, result)
		}
		var slaErr *SLAExceededError
		if err != nil && !errors.As(err, &slaErr) {
			return results, err
		}
	}

	if slaErr := checkSLA("batch_operation", c.now().Sub(start)); slaErr != nil {
		return results, slaErr
	}
	return results, nil
}

// RetrieveDocument reads a document: cache first (through its breaker),
// falling back to the relational store. A relational hit refreshes the
// cache best-effort.
func (c *Coordinator) RetrieveDocument(ctx context.Context, id string) (*store.Document, error) {
	start := c.now()

	if doc := c.cacheGet(ctx, id); doc != nil {
		if slaErr := checkSLA("query_operation", c.now().Sub(start)); slaErr != nil {
			return doc, slaErr
		}
		return doc, nil
	}

	retriever, ok := c.stores.Relational.(store.Retriever)
	if !ok {
		return nil, errors.New("relational store does not support retrieval")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	doc, err := retriever.RetrieveDocument(callCtx, id)
	if err != nil {
		return nil, err
	}

	c.cacheRefresh(ctx, doc)

	if slaErr := checkSLA("query_operation", c.now().Sub(start)); slaErr != nil {
		return doc, slaErr
	}
	return doc, nil
}

// ValidateConsistency checks the document's presence across every wired
// store and returns the agreement report. A *ValidationError is returned
// when the relational reference check itself errored; the partial report
// rides along for whatever it is still worth.
func (c *Coordinator) ValidateConsistency(ctx context.Context, id string) (*txn.ConsistencyReport, error) {
	if id == "" {
		return nil, errors.New("document ID is required")
	}
	start := c.now()
	report, err := c.validator.Validate(ctx, id)
	if err != nil {
		return report, err
	}
	if slaErr := checkSLA("query_operation", c.now().Sub(start)); slaErr != nil {
		return report, slaErr
	}
	return report, nil
}

// run drives a built transaction through the critical and optional phases
// and aggregates the outcome. It owns registry bookkeeping.
func (c *Coordinator) run(ctx context.Context, t *txn.Transaction, docID string) (*txn.SyncResult, error) {
	c.registry.Add(t)
	defer c.registry.Remove(t.ID)

	t.Begin(c.now())
	start := t.StartedAt

	result := &txn.SyncResult{
		DocID:         docID,
		TransactionID: t.ID,
	}

	// Critical phase: sequential, fixed order, no breakers. Stops at the
	// first failure so at most the earlier critical store needs undoing.
	for _, role := range store.CriticalRoles() {
		op := t.ByRole(role)
		if err := c.dispatch(ctx, op); err != nil {
			c.logger.Error("critical store failed",
				"store", role, "doc_id", docID, "transaction_id", t.ID, "error", err)
			return c.failCritical(ctx, t, result, start, role, err)
		}
		result.AffectedStores = append(result.AffectedStores, role)
	}

	// Optional phase: both optional stores concurrently, each behind its
	// breaker. Failures degrade the result; the phase always joins before
	// status aggregation.
	g := new(errgroup.Group)
	for _, role := range store.OptionalRoles() {
		op := t.ByRole(role)
		g.Go(func() error {
			c.dispatchOptional(ctx, op)
			return nil
		})
	}
	g.Wait()

	for _, role := range store.OptionalRoles() {
		op := t.ByRole(role)
		switch op.Status {
		case txn.OpCommitted:
			result.AffectedStores = append(result.AffectedStores, role)
		case txn.OpFailed:
			result.DegradedStores = append(result.DegradedStores, role)
			if impact, ok := functionalityImpact[role]; ok {
				result.FunctionalityImpact = append(result.FunctionalityImpact, impact)
			}
		}
	}

	result.Success = true
	if len(result.DegradedStores) > 0 {
		result.SystemStatus = txn.StatusDegraded
		t.Finish(txn.TxnCommitted, c.now())
	} else {
		result.SystemStatus = txn.StatusHealthy
		t.Finish(txn.TxnCommitted, c.now())
		if c.validate {
			report, err := c.validator.Validate(ctx, docID)
			if err != nil {
				c.logger.Warn("post-write validation failed", "doc_id", docID, "error", err)
			}
			result.Consistency = report
		}
	}

	result.ExecutionTime = c.now().Sub(start)
	return result, nil
}

// failCritical rolls back, finalizes the transaction as failed and builds
// the caller-facing atomic failure.
func (c *Coordinator) failCritical(ctx context.Context, t *txn.Transaction, result *txn.SyncResult, start time.Time, role store.Role, cause error) (*txn.SyncResult, error) {
	remaining := c.rollback(ctx, t)
	if t.RollbackAttempted {
		t.Finish(txn.TxnRolledBack, c.now())
	} else {
		t.Finish(txn.TxnFailed, c.now())
	}

	atomicErr := &AtomicFailureError{
		TransactionID:      t.ID,
		FailedStores:       []store.Role{role},
		RollbackIncomplete: remaining,
		Cause:              cause,
	}

	result.ExecutionTime = c.now().Sub(start)
	if slaErr := checkSLA("critical_failure_detection", result.ExecutionTime); slaErr != nil {
		atomicErr.SLABreach = slaErr
		c.logger.Warn("critical failure detection exceeded SLA",
			"elapsed", slaErr.Elapsed, "limit", slaErr.Limit, "transaction_id", t.ID)
	}

	result.Success = false
	result.SystemStatus = txn.StatusCriticalFailure
	result.Err = atomicErr.Error()
	return result, atomicErr
}

// rollback walks committed operations in reverse and applies the inverse
// action through the same adapters. Best-effort: a failing step is logged
// and the walk continues. Returns the roles whose state could not be undone.
func (c *Coordinator) rollback(ctx context.Context, t *txn.Transaction) []store.Role {
	committed := t.Committed()
	if len(committed) == 0 {
		return nil
	}
	t.RollbackAttempted = true

	var remaining []store.Role
	for i := len(committed) - 1; i >= 0; i-- {
		op := committed[i]
		if err := c.undo(ctx, op); err != nil {
			remaining = append(remaining, op.Role)
			c.logger.Error("rollback step failed",
				"store", op.Role, "kind", op.Kind, "doc_id", op.Doc.ID,
				"transaction_id", t.ID, "error", err)
		}
	}
	t.RollbackSucceeded = len(remaining) == 0
	if !t.RollbackSucceeded {
		c.logger.Error("rollback incomplete, manual intervention may be required",
			"transaction_id", t.ID, "stores", remaining)
	}
	return remaining
}

// undo applies the inverse of one committed operation.
func (c *Coordinator) undo(ctx context.Context, op *txn.Operation) error {
	adapter := c.stores.For(op.Role)
	if adapter == nil {
		return fmt.Errorf("no adapter wired for %s store", op.Role)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	switch op.Kind {
	case txn.KindCreate:
		return adapter.DeleteDocument(callCtx, op.Doc.ID)
	case txn.KindUpdate:
		if op.Snapshot != nil {
			return adapter.StoreDocument(callCtx, op.Snapshot)
		}
		return adapter.DeleteDocument(callCtx, op.Doc.ID)
	case txn.KindDelete:
		if op.Snapshot == nil {
			return fmt.Errorf("no snapshot to restore deleted document %s", op.Doc.ID)
		}
		return adapter.StoreDocument(callCtx, op.Snapshot)
	}
	return fmt.Errorf("operation kind %s has no inverse", op.Kind)
}

// dispatch runs one operation against its adapter with a hard per-call
// deadline. Adapter errors and panics are converted to operation failure;
// nothing escapes the coordinator uncaught.
func (c *Coordinator) dispatch(ctx context.Context, op *txn.Operation) error {
	op.Start(c.now())
	err := c.callAdapter(ctx, op)
	if err != nil {
		op.Fail(c.now(), err)
		return err
	}
	op.Commit(c.now())
	return nil
}

// dispatchOptional runs one optional operation through its circuit breaker.
func (c *Coordinator) dispatchOptional(ctx context.Context, op *txn.Operation) {
	op.Start(c.now())

	b := c.breakers.For(op.Role)
	call := func(callCtx context.Context) error {
		return c.callAdapter(callCtx, op)
	}

	var err error
	if b != nil {
		err = b.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		var openErr *breaker.OpenError
		if errors.As(err, &openErr) {
			// An open-breaker rejection is supposed to be near-instant;
			// a slow one means the fail-fast path itself is degraded.
			if slaErr := checkSLA("circuit_breaker_short_circuit", c.now().Sub(op.StartedAt)); slaErr != nil {
				c.logger.Warn("circuit breaker short circuit exceeded SLA",
					"store", op.Role, "elapsed", slaErr.Elapsed, "limit", slaErr.Limit)
			}
			c.logger.Warn("optional store short-circuited",
				"store", op.Role, "doc_id", op.Doc.ID, "retry_after", openErr.RetryAfter)
		} else {
			c.logger.Warn("optional store failed",
				"store", op.Role, "doc_id", op.Doc.ID, "error", err)
		}
		op.Fail(c.now(), err)
		return
	}
	op.Commit(c.now())
}

// callAdapter performs the raw adapter call for an operation, converting
// panics into errors and enforcing the per-call deadline.
func (c *Coordinator) callAdapter(ctx context.Context, op *txn.Operation) (err error) {
	adapter := c.stores.For(op.Role)
	if adapter == nil {
		if op.Role.Critical() {
			return fmt.Errorf("no adapter wired for critical %s store", op.Role)
		}
		return fmt.Errorf("no adapter wired for %s store", op.Role)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s adapter panicked: %v", op.Role, r)
		}
	}()

	switch op.Kind {
	case txn.KindCreate, txn.KindUpdate:
		return adapter.StoreDocument(callCtx, op.Doc)
	case txn.KindDelete:
		return adapter.DeleteDocument(callCtx, op.Doc.ID)
	default:
		return fmt.Errorf("cannot dispatch %s operation to %s store", op.Kind, op.Role)
	}
}

// snapshotForDelete reads the current relational copy so rollback can
// restore it. Absence or read failure yields no snapshot; a delete of a
// missing document then simply has nothing to restore.
func (c *Coordinator) snapshotForDelete(ctx context.Context, id string) *store.Document {
	retriever, ok := c.stores.Relational.(store.Retriever)
	if !ok {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	doc, err := retriever.RetrieveDocument(callCtx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("pre-delete snapshot failed", "doc_id", id, "error", err)
		}
		return nil
	}
	return doc
}

// cacheGet reads a document from the cache through its breaker. Any miss or
// failure returns nil; reads never fail on cache trouble.
func (c *Coordinator) cacheGet(ctx context.Context, id string) *store.Document {
	getter, ok := c.stores.Cache.(store.Retriever)
	if !ok {
		return nil
	}
	b := c.breakers.For(store.RoleCache)

	var doc *store.Document
	call := func(callCtx context.Context) error {
		timeoutCtx, cancel := context.WithTimeout(callCtx, c.callTimeout)
		defer cancel()
		d, err := getter.RetrieveDocument(timeoutCtx, id)
		if errors.Is(err, store.ErrNotFound) {
			// A miss is a healthy answer; it must not trip the breaker.
			return nil
		}
		if err != nil {
			return err
		}
		doc = d
		return nil
	}

	var err error
	if b != nil {
		err = b.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		c.logger.Debug("cache read failed", "doc_id", id, "error", err)
		return nil
	}
	return doc
}

// cacheRefresh writes a freshly read document back into the cache,
// best-effort and behind the breaker.
func (c *Coordinator) cacheRefresh(ctx context.Context, doc *store.Document) {
	if c.stores.Cache == nil || doc == nil {
		return
	}
	b := c.breakers.For(store.RoleCache)
	call := func(callCtx context.Context) error {
		timeoutCtx, cancel := context.WithTimeout(callCtx, c.callTimeout)
		defer cancel()
		return c.stores.Cache.StoreDocument(timeoutCtx, doc)
	}
	var err error
	if b != nil {
		err = b.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		c.logger.Debug("cache refresh failed", "doc_id", doc.ID, "error", err)
	}
}

// Breakers exposes the circuit breaker manager for health reporting.
func (c *Coordinator) Breakers() *breaker.Manager {
	return c.breakers
}

// ActiveTransactions returns the number of in-flight transactions.
func (c *Coordinator) ActiveTransactions() int {
	return c.registry.Count()
}

// withTimestamps fills zero timestamps with now.
func withTimestamps(doc *store.Document, now time.Time) *store.Document {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}
	return doc
}
