package coordinator

import "time"

// Latency SLAs for the engine's units of work. Exceeding one does not abort
// the work; it surfaces an SLAExceededError next to the result.
const (
	slaSingleOperation     = 500 * time.Millisecond
	slaQueryOperation      = 2000 * time.Millisecond
	slaBatchOperation      = 5000 * time.Millisecond
	slaCriticalDetection   = 500 * time.Millisecond
	slaBreakerShortCircuit = 100 * time.Millisecond
)

// slaLimits maps operation names to their latency bounds.
var slaLimits = map[string]time.Duration{
	"single_operation":              slaSingleOperation,
	"query_operation":               slaQueryOperation,
	"batch_operation":               slaBatchOperation,
	"critical_failure_detection":    slaCriticalDetection,
	"circuit_breaker_short_circuit": slaBreakerShortCircuit,
}

// checkSLA returns an SLAExceededError when elapsed exceeds the named
// operation's bound, nil otherwise. Unknown operation names have no bound.
func checkSLA(operation string, elapsed time.Duration) *SLAExceededError {
	limit, ok := slaLimits[operation]
	if !ok {
		return nil
	}
	if elapsed <= limit {
		return nil
	}
	return &SLAExceededError{Operation: operation, Elapsed: elapsed, Limit: limit}
}
