package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/quadsync/internal/store"
	"github.com/kalambet/quadsync/internal/txn"
)

// Validator checks a document's presence across every wired store and
// reports agreement. The relational store is the reference: every other
// store is consistent when its answer matches the relational one.
type Validator struct {
	stores Stores
	now    func() time.Time
}

// NewValidator builds a validator over the given stores.
func NewValidator(stores Stores) *Validator {
	return &Validator{stores: stores, now: time.Now}
}

// Validate builds a fresh ConsistencyReport for the document. A failing
// check on one store is recorded as an inconsistency entry and does not
// abort the remaining checks; partial information beats none. When the
// relational reference check itself errors the report has no authority,
// and it is returned together with a *ValidationError.
func (v *Validator) Validate(ctx context.Context, docID string) (*txn.ConsistencyReport, error) {
	report := &txn.ConsistencyReport{
		DocID:             docID,
		PerStore:          make(map[store.Role]bool),
		OverallConsistent: true,
		ValidatedAt:       v.now().UTC(),
	}

	type presence struct {
		exists  bool
		checked bool
	}
	results := make(map[store.Role]presence)

	var refErr error
	for _, role := range store.AllRoles() {
		adapter := v.stores.For(role)
		if adapter == nil {
			continue
		}
		exists, err := adapter.DocumentExists(ctx, docID)
		if err != nil {
			results[role] = presence{}
			report.Inconsistencies = append(report.Inconsistencies,
				fmt.Sprintf("%s store: existence check failed: %v", role, err))
			if role == store.RoleRelational {
				refErr = err
			}
			continue
		}
		results[role] = presence{exists: exists, checked: true}
	}

	reference, haveReference := results[store.RoleRelational]
	for _, role := range store.AllRoles() {
		res, wired := results[role]
		if !wired {
			continue
		}
		switch {
		case !res.checked:
			report.PerStore[role] = false
		case haveReference && reference.checked && res.exists != reference.exists:
			report.PerStore[role] = false
			report.Inconsistencies = append(report.Inconsistencies,
				disagreement(role, res.exists, docID))
		default:
			report.PerStore[role] = true
		}
	}

	for _, consistent := range report.PerStore {
		if !consistent {
			report.OverallConsistent = false
			break
		}
	}
	if refErr != nil {
		return report, &ValidationError{DocID: docID, Cause: refErr}
	}
	return report, nil
}

func disagreement(role store.Role, exists bool, docID string) string {
	if exists {
		return fmt.Sprintf("%s store holds document %s that is absent from the relational store", role, docID)
	}
	return fmt.Sprintf("%s store is missing document %s present in the relational store", role, docID)
}
