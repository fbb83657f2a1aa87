// Package vector is the critical vector store adapter: the semantic-search
// projection of documents. Embeddings live as little-endian float32 BLOBs in
// SQLite and search is brute-force cosine similarity with a top-K min-heap.
package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/quadsync/internal/store"
)

var (
	_ store.Adapter   = (*Store)(nil)
	_ store.Retriever = (*Store)(nil)
)

// Store holds document embeddings in its own SQLite database.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

// Open opens (or creates) the vector database in dataDir. A nil embedder
// gets the default hashing embedder. Pass ":memory:" for tests.
func Open(dataDir string, embedder Embedder) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vectors.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS document_vectors (
		doc_id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		embedding BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating document_vectors table: %w", err)
	}

	if embedder == nil {
		embedder = NewHashingEmbedder(0)
	}
	return &Store{db: db, embedder: embedder}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreDocument embeds the document's content and upserts the row.
func (s *Store) StoreDocument(ctx context.Context, doc *store.Document) error {
	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_vectors (doc_id, document, embedding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			document = excluded.document,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		doc.ID, string(encoded), encodeVector(vec), doc.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting vector for %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocument removes the embedding row. Absent rows are not an error.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM document_vectors WHERE doc_id = ?", id); err != nil {
		return fmt.Errorf("deleting vector for %s: %w", id, err)
	}
	return nil
}

// DocumentExists reports whether an embedding row exists for the document.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_vectors WHERE doc_id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("checking vector for %s: %w", id, err)
	}
	return n > 0, nil
}

// RetrieveDocument returns the stored document projection or store.ErrNotFound.
func (s *Store) RetrieveDocument(ctx context.Context, id string) (*store.Document, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM document_vectors WHERE doc_id = ?", id).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading vector row for %s: %w", id, err)
	}
	var doc store.Document
	if err := json.Unmarshal([]byte(encoded), &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return &doc, nil
}

// Health reports adapter status via a ping.
func (s *Store) Health(ctx context.Context) store.Health {
	if err := s.db.PingContext(ctx); err != nil {
		return store.Unhealthy(err)
	}
	return store.Healthy("sqlite reachable")
}

// Match is a similarity search hit.
type Match struct {
	Doc   *store.Document
	Score float32
}

// SearchSimilar embeds the query text and returns the topK most similar
// documents by cosine similarity, best first.
func (s *Store) SearchSimilar(ctx context.Context, text string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT doc_id, embedding FROM document_vectors")
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	h := &scoreHeap{}
	heap.Init(h)

	// Reusable decode buffer avoids per-row allocations during the scan.
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeVectorInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(query, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{id: id, score: score})
		} else if score > (*h)[0].score {
			(*h)[0] = idScore{id: id, score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop ascending, fill best-first.
	matches := make([]Match, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		doc, err := s.RetrieveDocument(ctx, item.id)
		if err != nil {
			return nil, fmt.Errorf("fetching match %s: %w", item.id, err)
		}
		matches[i] = Match{Doc: doc, Score: item.score}
	}
	return matches, nil
}

// encodeVector serializes a float32 slice to little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVectorInto decodes little-endian bytes into buf, growing it as
// needed. Errors if the length is not a multiple of 4.
func decodeVectorInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|); aNorm is precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScore tracks only ID and score during the scan phase.
type idScore struct {
	id    string
	score float32
}

// scoreHeap is a min-heap of idScore ordered by score.
type scoreHeap []idScore

func (h scoreHeap) Len() int           { return len(h) }
func (h scoreHeap) Less(i, j int) bool { return h[i].score < h[j].score }
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
