package coordinator

import (
	"context"
	"fmt"

	"github.com/kalambet/quadsync/internal/breaker"
	"github.com/kalambet/quadsync/internal/store"
)

// HealthReport is the tier-aware health view for monitoring.
type HealthReport struct {
	CoordinatorStatus  string                        `json:"coordinator_status"`
	Stores             map[store.Role]store.Health   `json:"per_store"`
	CircuitBreakers    map[store.Role]breaker.Status `json:"circuit_breakers"`
	ActiveTransactions int                           `json:"active_transaction_count"`
}

// HealthStatus probes every wired store and summarizes coordinator health.
// A failing critical store yields critical_failure; failing optional stores
// only degrade.
func (c *Coordinator) HealthStatus(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Stores:             make(map[store.Role]store.Health),
		CircuitBreakers:    c.breakers.Snapshot(),
		ActiveTransactions: c.registry.Count(),
	}

	var criticalDown, optionalDown int
	for _, role := range store.AllRoles() {
		adapter := c.stores.For(role)
		if adapter == nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		h := adapter.Health(callCtx)
		cancel()
		report.Stores[role] = h
		if h.Status != "healthy" {
			if role.Critical() {
				criticalDown++
			} else {
				optionalDown++
			}
		}
	}

	switch {
	case criticalDown > 0:
		report.CoordinatorStatus = fmt.Sprintf("critical_failure (%d/%d critical stores failing)",
			criticalDown, len(store.CriticalRoles()))
	case optionalDown > 0:
		report.CoordinatorStatus = fmt.Sprintf("degraded (%d/%d optional stores failing)",
			optionalDown, len(store.OptionalRoles()))
	default:
		report.CoordinatorStatus = "healthy"
	}
	return report
}
