// Package graphstore is the optional graph store adapter: the relationship
// projection of documents. Documents, tags and conversations are nodes;
// tagging and conversation membership are edges. Backed by its own SQLite
// database with adjacency tables.
package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kalambet/quadsync/internal/store"
)

var _ store.Adapter = (*Store)(nil)

// Node kinds.
const (
	kindDocument     = "document"
	kindTag          = "tag"
	kindConversation = "conversation"
)

// Edge relations.
const (
	relTagged = "tagged"
	relPartOf = "part_of"
)

// Store keeps the document relationship graph.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the graph database in dataDir. Pass ":memory:"
// for tests.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "graph.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening graph database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging graph database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			label TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			rel TEXT NOT NULL,
			PRIMARY KEY (src, dst, rel)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating graph schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func docNode(id string) string  { return "doc:" + id }
func tagNode(tag string) string { return "tag:" + tag }
func convNode(id string) string { return "conv:" + id }

// StoreDocument replaces the document's node and outgoing edges with the
// projection of doc: one tagged edge per tag and a part_of edge to its
// conversation, creating tag/conversation nodes as needed.
func (s *Store) StoreDocument(ctx context.Context, doc *store.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning graph transaction: %w", err)
	}
	defer tx.Rollback()

	node := docNode(doc.ID)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, kind, label) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label`,
		node, kindDocument, doc.ID); err != nil {
		return fmt.Errorf("upserting document node: %w", err)
	}

	// Replace semantics: drop the document's old edges before relinking.
	if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE src = ?", node); err != nil {
		return fmt.Errorf("clearing old edges: %w", err)
	}

	for _, tag := range doc.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, kind, label) VALUES (?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			tagNode(tag), kindTag, tag); err != nil {
			return fmt.Errorf("upserting tag node %q: %w", tag, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edges (src, dst, rel) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING`,
			node, tagNode(tag), relTagged); err != nil {
			return fmt.Errorf("linking tag %q: %w", tag, err)
		}
	}

	if doc.ConversationID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, kind, label) VALUES (?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			convNode(doc.ConversationID), kindConversation, doc.ConversationID); err != nil {
			return fmt.Errorf("upserting conversation node: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edges (src, dst, rel) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING`,
			node, convNode(doc.ConversationID), relPartOf); err != nil {
			return fmt.Errorf("linking conversation: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteDocument removes the document node and all edges touching it.
// Tag and conversation nodes stay; they may link other documents.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning graph transaction: %w", err)
	}
	defer tx.Rollback()

	node := docNode(id)
	if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE src = ? OR dst = ?", node, node); err != nil {
		return fmt.Errorf("deleting edges for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", node); err != nil {
		return fmt.Errorf("deleting node for %s: %w", id, err)
	}
	return tx.Commit()
}

// DocumentExists reports whether the document node exists.
func (s *Store) DocumentExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM nodes WHERE id = ? AND kind = ?", docNode(id), kindDocument).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking node for %s: %w", id, err)
	}
	return n > 0, nil
}

// Health reports adapter status via a ping.
func (s *Store) Health(ctx context.Context) store.Health {
	if err := s.db.PingContext(ctx); err != nil {
		return store.Unhealthy(err)
	}
	return store.Healthy("sqlite reachable")
}

// RelatedDocuments returns IDs of documents reachable from id through a
// shared tag or conversation node, nearest-neighbor traversal only.
func (s *Store) RelatedDocuments(ctx context.Context, id string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT other.label
		FROM edges mine
		JOIN edges theirs ON theirs.dst = mine.dst AND theirs.src != mine.src
		JOIN nodes other ON other.id = theirs.src AND other.kind = ?
		WHERE mine.src = ?
		ORDER BY other.label
		LIMIT ?`, kindDocument, docNode(id), limit)
	if err != nil {
		return nil, fmt.Errorf("querying related documents: %w", err)
	}
	defer rows.Close()

	var related []string
	for rows.Next() {
		var docID string
		if err := rows.Scan(&docID); err != nil {
			return nil, fmt.Errorf("scanning related document: %w", err)
		}
		related = append(related, docID)
	}
	return related, rows.Err()
}
