package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/quadsync/internal/store"
	"github.com/kalambet/quadsync/internal/txn"
)

func TestScopedTxnCommit(t *testing.T) {
	c, ts := newTestCoordinator(t, Options{})
	doc := testDoc("s1")

	tx := c.Begin()
	defer tx.Close(context.Background())
	tx.QueueCreate(store.RoleRelational, doc)
	tx.QueueCreate(store.RoleVector, doc)
	tx.QueueCreate(store.RoleGraph, doc)

	if got := c.ActiveTransactions(); got != 1 {
		t.Errorf("active transactions = %d, want 1 while handle open", got)
	}

	result, err := tx.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !result.Success || result.SystemStatus != txn.StatusHealthy {
		t.Errorf("got success=%v status=%s, want healthy success", result.Success, result.SystemStatus)
	}
	if len(result.AffectedStores) != 3 {
		t.Errorf("AffectedStores = %v, want the 3 queued stores", result.AffectedStores)
	}
	if !ts.relational.has("s1") || !ts.vector.has("s1") || !ts.graph.has("s1") {
		t.Error("queued stores missing s1 after commit")
	}
	if ts.cache.has("s1") {
		t.Error("cache written although never queued")
	}
	if got := c.ActiveTransactions(); got != 0 {
		t.Errorf("active transactions = %d, want 0 after commit", got)
	}
}

func TestScopedTxnCommitCriticalFailureRollsBack(t *testing.T) {
	c, ts := newTestCoordinator(t, Options{})
	ts.vector.storeFn = func(context.Context, *store.Document) error { return errStoreDown }

	tx := c.Begin()
	tx.QueueCreate(store.RoleRelational, testDoc("s1"))
	tx.QueueCreate(store.RoleVector, testDoc("s1"))

	_, err := tx.Commit(context.Background())
	var atomicErr *AtomicFailureError
	if !errors.As(err, &atomicErr) {
		t.Fatalf("got %v, want *AtomicFailureError", err)
	}
	if ts.relational.has("s1") {
		t.Error("relational write not rolled back")
	}
	if got := c.ActiveTransactions(); got != 0 {
		t.Errorf("active transactions = %d, want 0 after failed commit", got)
	}
}

func TestScopedTxnOptionalFailureDegrades(t *testing.T) {
	c, ts := newTestCoordinator(t, Options{})
	ts.cache.storeFn = func(context.Context, *store.Document) error { return errStoreDown }

	tx := c.Begin()
	tx.QueueCreate(store.RoleRelational, testDoc("s1"))
	tx.QueueCreate(store.RoleCache, testDoc("s1"))

	result, err := tx.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.SystemStatus != txn.StatusDegraded {
		t.Errorf("SystemStatus = %s, want degraded", result.SystemStatus)
	}
	if len(result.DegradedStores) != 1 || result.DegradedStores[0] != store.RoleCache {
		t.Errorf("DegradedStores = %v, want [cache]", result.DegradedStores)
	}
}

func TestScopedTxnIsOneShot(t *testing.T) {
	c, ts := newTestCoordinator(t, Options{})

	tx := c.Begin()
	tx.QueueCreate(store.RoleRelational, testDoc("s1"))
	if _, err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := tx.Commit(context.Background()); err == nil {
		t.Error("second Commit must be refused")
	}
	if err := tx.Close(context.Background()); err != nil {
		t.Errorf("Close after Commit must be a no-op, got %v", err)
	}
	if !ts.relational.has("s1") {
		t.Error("committed write must survive Close")
	}
}

func TestScopedTxnExplicitRollback(t *testing.T) {
	c, _ := newTestCoordinator(t, Options{})

	tx := c.Begin()
	tx.QueueCreate(store.RoleRelational, testDoc("s1"))
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback with nothing committed: %v", err)
	}
	if _, err := tx.Commit(context.Background()); err == nil {
		t.Error("Commit after Rollback must be refused")
	}
	if got := c.ActiveTransactions(); got != 0 {
		t.Errorf("active transactions = %d, want 0 after rollback", got)
	}
}

func TestScopedTxnEmptyCommitRefused(t *testing.T) {
	c, _ := newTestCoordinator(t, Options{})
	tx := c.Begin()
	defer tx.Close(context.Background())
	if _, err := tx.Commit(context.Background()); err == nil {
		t.Error("empty Commit must be refused")
	}
}
