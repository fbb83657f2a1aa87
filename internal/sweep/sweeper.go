// Package sweep runs the background consistency sweeper: it periodically
// re-validates recently written documents across the stores and logs any
// drift it finds, so inconsistencies surface without waiting for a caller
// to ask.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/quadsync/internal/store"
	"github.com/kalambet/quadsync/internal/txn"
)

// RecentLister lists documents to validate, newest first.
type RecentLister interface {
	ListRecent(ctx context.Context, limit int) ([]*store.Document, error)
}

// Validator checks one document's presence across the stores.
type Validator interface {
	ValidateConsistency(ctx context.Context, id string) (*txn.ConsistencyReport, error)
}

// Sweeper validates a batch of recent documents on a fixed interval.
type Sweeper struct {
	lister    RecentLister
	validator Validator
	interval  time.Duration
	batch     int
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper. An interval <= 0 defaults to 5 minutes,
// a batch <= 0 to 50 documents.
func NewSweeper(lister RecentLister, validator Validator, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Sweeper{
		lister:    lister,
		validator: validator,
		interval:  interval,
		batch:     batch,
		logger:    slog.Default(),
	}
}

// Run sweeps on the interval until ctx is cancelled. The first sweep runs
// after one full interval so startup stays quiet.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("consistency sweep failed", "error", err)
		}
	}
}

// RunOnce validates one batch of recent documents and returns how many
// came back inconsistent. Validation errors on individual documents are
// logged and skipped; only a failure to list documents aborts the sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	docs, err := s.lister.ListRecent(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("listing recent documents: %w", err)
	}

	var drifted int
	for _, doc := range docs {
		if ctx.Err() != nil {
			return drifted, ctx.Err()
		}

		report, err := s.validator.ValidateConsistency(ctx, doc.ID)
		if err != nil {
			s.logger.Warn("sweep validation failed", "doc_id", doc.ID, "error", err)
			continue
		}
		if !report.OverallConsistent {
			drifted++
			s.logger.Warn("consistency drift detected",
				"doc_id", doc.ID,
				"inconsistencies", report.Inconsistencies)
		}
	}

	if drifted > 0 {
		s.logger.Info("consistency sweep finished", "checked", len(docs), "drifted", drifted)
	}
	return drifted, nil
}
