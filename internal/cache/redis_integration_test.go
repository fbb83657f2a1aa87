package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/kalambet/quadsync/internal/store"
)

// openTestCache connects to a local Redis and skips the test when none is
// reachable. QUADSYNC_TEST_REDIS_ADDR overrides the default address; DB 15
// keeps test keys away from real data.
func openTestCache(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("QUADSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Open(ctx, Options{Addr: addr, DB: 15, TTL: time.Minute})
	if err != nil {
		t.Skipf("Redis is not running at %s, skipping integration test", addr)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	s := openTestCache(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	doc := &store.Document{
		ID:             "it-d1",
		Content:        "hello",
		Tags:           []string{"x", "y"},
		CreatedAt:      now,
		UpdatedAt:      now,
		ConversationID: "c1",
	}
	t.Cleanup(func() { s.DeleteDocument(context.Background(), doc.ID) })

	if err := s.StoreDocument(ctx, doc); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}
	exists, err := s.DocumentExists(ctx, doc.ID)
	if err != nil {
		t.Fatalf("DocumentExists: %v", err)
	}
	if !exists {
		t.Error("document missing right after store")
	}

	got, err := s.RetrieveDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("RetrieveDocument: %v", err)
	}
	if got.Content != "hello" || got.ConversationID != "c1" || len(got.Tags) != 2 {
		t.Errorf("retrieved %+v", got)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, doc.CreatedAt)
	}

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	exists, err = s.DocumentExists(ctx, doc.ID)
	if err != nil {
		t.Fatalf("DocumentExists: %v", err)
	}
	if exists {
		t.Error("document present after delete")
	}
	// Evicting an absent key is not an error.
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestCacheMissIsNotFound(t *testing.T) {
	s := openTestCache(t)
	if _, err := s.RetrieveDocument(context.Background(), "it-never-written"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCacheHealth(t *testing.T) {
	s := openTestCache(t)
	h := s.Health(context.Background())
	if h.Status != "healthy" {
		t.Errorf("Health = %+v, want healthy", h)
	}
}
