package vector

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kalambet/quadsync/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDoc(t *testing.T, s *Store, id, content string) {
	t.Helper()
	now := time.Now().UTC()
	doc := &store.Document{ID: id, Content: content, CreatedAt: now, UpdatedAt: now}
	if err := s.StoreDocument(context.Background(), doc); err != nil {
		t.Fatalf("StoreDocument %s: %v", id, err)
	}
}

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	a, err := e.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("dims = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("identical text must embed identically")
		}
	}

	var normSq float64
	for _, v := range a {
		normSq += float64(v) * float64(v)
	}
	if math.Abs(normSq-1) > 1e-5 {
		t.Errorf("vector norm^2 = %f, want 1 (L2-normalized)", normSq)
	}
}

func TestStoreExistsDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedDoc(t, s, "d1", "hello world")

	exists, err := s.DocumentExists(ctx, "d1")
	if err != nil {
		t.Fatalf("DocumentExists: %v", err)
	}
	if !exists {
		t.Error("d1 missing after store")
	}

	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	exists, err = s.DocumentExists(ctx, "d1")
	if err != nil {
		t.Fatalf("DocumentExists: %v", err)
	}
	if exists {
		t.Error("d1 present after delete")
	}
	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Errorf("deleting absent document: %v", err)
	}
}

func TestRetrieveDocumentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	doc := &store.Document{
		ID: "d1", Content: "hello", Tags: []string{"a"},
		CreatedAt: now, UpdatedAt: now, ConversationID: "c9",
	}
	if err := s.StoreDocument(ctx, doc); err != nil {
		t.Fatalf("StoreDocument: %v", err)
	}

	got, err := s.RetrieveDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("RetrieveDocument: %v", err)
	}
	if got.Content != "hello" || got.ConversationID != "c9" || len(got.Tags) != 1 {
		t.Errorf("retrieved %+v", got)
	}

	if _, err := s.RetrieveDocument(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestSearchSimilarRanksByContent(t *testing.T) {
	s := openTestStore(t)
	seedDoc(t, s, "cooking", "recipes for pasta sauce and fresh basil")
	seedDoc(t, s, "golang", "goroutines channels and the go scheduler")
	seedDoc(t, s, "gardening", "planting basil tomatoes and fresh herbs")

	matches, err := s.SearchSimilar(context.Background(), "goroutines and the go scheduler", 2)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Doc.ID != "golang" {
		t.Errorf("best match = %s, want golang", matches[0].Doc.ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not ordered best-first")
	}
}

func TestSearchSimilarEmptyStore(t *testing.T) {
	s := openTestStore(t)
	matches, err := s.SearchSimilar(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches from empty store", len(matches))
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out, err := decodeVectorInto(nil, encodeVector(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}

	if _, err := decodeVectorInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("truncated blob must error")
	}
}
