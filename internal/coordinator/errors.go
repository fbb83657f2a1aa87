package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/quadsync/internal/store"
)

// AtomicFailureError reports that a critical store rejected its part of a
// transaction. The transaction failed as a whole and rollback was driven for
// any already-committed operations.
type AtomicFailureError struct {
	TransactionID string
	FailedStores  []store.Role
	// RollbackIncomplete lists stores whose committed writes could not be
	// undone. Empty when rollback fully succeeded (or nothing needed undoing).
	RollbackIncomplete []store.Role
	// SLABreach is set when detecting the failure and driving rollback took
	// longer than the critical failure detection bound.
	SLABreach *SLAExceededError
	Cause     error
}

func (e *AtomicFailureError) Error() string {
	msg := fmt.Sprintf("critical database failure in %s (transaction %s)", joinRoles(e.FailedStores), e.TransactionID)
	if len(e.RollbackIncomplete) > 0 {
		msg += fmt.Sprintf("; rollback incomplete for %s", joinRoles(e.RollbackIncomplete))
	}
	if e.SLABreach != nil {
		msg += "; " + e.SLABreach.Error()
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AtomicFailureError) Unwrap() error { return e.Cause }

// RollbackError reports that best-effort rollback left partial state behind.
type RollbackError struct {
	TransactionID string
	Remaining     []store.Role
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of transaction %s left committed state in %s", e.TransactionID, joinRoles(e.Remaining))
}

// ValidationError reports that a consistency check itself errored, which is
// distinct from the check finding an inconsistency.
type ValidationError struct {
	DocID string
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("consistency validation of %s failed: %v", e.DocID, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// SLAExceededError reports that an operation finished but took longer than
// its configured latency bound. The operation's result is still valid; the
// error exists so a latent performance regression is never silently absorbed.
type SLAExceededError struct {
	Operation string
	Elapsed   time.Duration
	Limit     time.Duration
}

func (e *SLAExceededError) Error() string {
	return fmt.Sprintf("%s took %s, exceeding the %s SLA", e.Operation, e.Elapsed.Round(time.Millisecond), e.Limit)
}

func joinRoles(roles []store.Role) string {
	if len(roles) == 0 {
		return "<none>"
	}
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
