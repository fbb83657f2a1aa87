package txn

import (
	"time"

	"github.com/kalambet/quadsync/internal/store"
)

// SystemStatus classifies the outcome of a sync across the store tiers.
type SystemStatus string

const (
	// StatusHealthy means every store accepted the write.
	StatusHealthy SystemStatus = "healthy"
	// StatusDegraded means all critical stores succeeded but at least one
	// optional store did not.
	StatusDegraded SystemStatus = "degraded"
	// StatusCriticalFailure means a critical store failed; the transaction
	// as a whole failed and was rolled back.
	StatusCriticalFailure SystemStatus = "critical_failure"
)

// SyncResult is the caller-facing outcome of one synchronized document
// operation. Callers always receive one; partial success is never silent —
// SystemStatus distinguishes healthy, degraded and critical_failure.
type SyncResult struct {
	Success             bool               `json:"success"`
	DocID               string             `json:"doc_id"`
	TransactionID       string             `json:"transaction_id"`
	ExecutionTime       time.Duration      `json:"execution_time"`
	AffectedStores      []store.Role       `json:"affected_stores,omitempty"`
	SystemStatus        SystemStatus       `json:"system_status"`
	DegradedStores      []store.Role       `json:"degraded_stores,omitempty"`
	FunctionalityImpact []string           `json:"functionality_impact,omitempty"`
	Consistency         *ConsistencyReport `json:"consistency,omitempty"`
	Err                 string             `json:"error,omitempty"`
}

// ConsistencyReport is a point-in-time comparison of a document's presence
// across the configured stores. Built fresh on every validation call.
type ConsistencyReport struct {
	DocID             string              `json:"doc_id"`
	PerStore          map[store.Role]bool `json:"per_store"`
	OverallConsistent bool                `json:"overall_consistent"`
	Inconsistencies   []string            `json:"inconsistencies,omitempty"`
	ValidatedAt       time.Time           `json:"validated_at"`
}
