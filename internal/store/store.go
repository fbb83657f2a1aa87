package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by retrieval calls when no document with the
// requested ID exists in the store.
var ErrNotFound = errors.New("document not found")

// Document is the unit of synchronization. A single logical document is
// fanned out to all four stores; each store keeps its own projection of it.
// A Document handed to the coordinator is treated as immutable for the
// duration of that operation.
type Document struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// Clone returns a deep copy of the document. Rollback snapshots hold clones
// so a caller mutating its document after the call cannot corrupt the journal.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Tags != nil {
		c.Tags = append([]string(nil), d.Tags...)
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Role identifies one of the four stores a document is synchronized to.
type Role string

const (
	RoleRelational Role = "relational"
	RoleVector     Role = "vector"
	RoleGraph      Role = "graph"
	RoleCache      Role = "cache"
)

// Critical reports whether a failed write to this store must fail the whole
// transaction. The partition is fixed policy: exact lookup (relational) and
// semantic search (vector) are the system's core reads, so those two stores
// are critical; relationship traversal (graph) and read latency (cache) are
// degradable.
func (r Role) Critical() bool {
	return r == RoleRelational || r == RoleVector
}

// AllRoles returns every role in the fixed phase order: critical stores
// first (relational, then vector), then optional stores (graph, then cache).
func AllRoles() []Role {
	return []Role{RoleRelational, RoleVector, RoleGraph, RoleCache}
}

// CriticalRoles returns the critical roles in phase order.
func CriticalRoles() []Role {
	return []Role{RoleRelational, RoleVector}
}

// OptionalRoles returns the optional roles in phase order.
func OptionalRoles() []Role {
	return []Role{RoleGraph, RoleCache}
}

// Health is a store adapter's self-reported status.
type Health struct {
	Status string `json:"status"` // "healthy" or "unhealthy"
	Detail string `json:"detail,omitempty"`
}

// Healthy builds a healthy Health with the given detail.
func Healthy(detail string) Health {
	return Health{Status: "healthy", Detail: detail}
}

// Unhealthy builds an unhealthy Health carrying the failure reason.
func Unhealthy(err error) Health {
	return Health{Status: "unhealthy", Detail: err.Error()}
}

// Adapter is the contract every store must satisfy. Calls report failure via
// the returned error; adapters must not panic past this boundary. All calls
// honor ctx cancellation and deadlines.
type Adapter interface {
	// StoreDocument creates or replaces the store's projection of doc.
	StoreDocument(ctx context.Context, doc *Document) error

	// DeleteDocument removes the projection. Deleting an absent document
	// is not an error.
	DeleteDocument(ctx context.Context, id string) error

	// DocumentExists reports whether the store currently holds doc id.
	DocumentExists(ctx context.Context, id string) (bool, error)

	// Health reports the adapter's current status.
	Health(ctx context.Context) Health
}

// Retriever is satisfied by critical stores, which must be able to hand the
// full document back (for reads and for delete-rollback snapshots).
type Retriever interface {
	// RetrieveDocument returns the stored document or ErrNotFound.
	RetrieveDocument(ctx context.Context, id string) (*Document, error)
}
