// Package api exposes the sync engine over HTTP for operators and callers:
// document writes, reads, deletes, similarity search, relationship lookups,
// consistency checks and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/quadsync/internal/coordinator"
	"github.com/kalambet/quadsync/internal/store"
	"github.com/kalambet/quadsync/internal/txn"
)

const maxDocumentBodySize = 10 << 20 // 10MB

// Syncer is the coordinator surface the API needs.
type Syncer interface {
	StoreDocument(ctx context.Context, doc *store.Document) (*txn.SyncResult, error)
	BatchStore(ctx context.Context, docs []*store.Document) ([]*txn.SyncResult, error)
	DeleteDocument(ctx context.Context, id string) (*txn.SyncResult, error)
	RetrieveDocument(ctx context.Context, id string) (*store.Document, error)
	ValidateConsistency(ctx context.Context, id string) (*txn.ConsistencyReport, error)
	HealthStatus(ctx context.Context) *coordinator.HealthReport
}

// Searcher performs similarity search; optional.
type Searcher interface {
	SearchSimilar(ctx context.Context, text string, topK int) ([]SearchMatch, error)
}

// SearchMatch is one similarity hit in API shape.
type SearchMatch struct {
	Doc   *store.Document `json:"document"`
	Score float32         `json:"score"`
}

// RelatedLister lists related document IDs from the graph store; optional.
type RelatedLister interface {
	RelatedDocuments(ctx context.Context, id string, limit int) ([]string, error)
}

// Deps wires the handler. Search and Related may be nil; their endpoints
// then answer 503.
type Deps struct {
	Sync    Syncer
	Search  Searcher
	Related RelatedLister
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Post("/documents", handleStore(deps))
	r.Post("/documents/batch", handleBatchStore(deps))
	r.Get("/documents/{id}", handleGet(deps))
	r.Delete("/documents/{id}", handleDelete(deps))
	r.Get("/documents/{id}/consistency", handleConsistency(deps))
	r.Get("/documents/{id}/related", handleRelated(deps))
	r.Get("/search", handleSearch(deps))

	return r
}

// syncResponse wraps a SyncResult with the SLA flag for callers that only
// look at the HTTP body.
type syncResponse struct {
	*txn.SyncResult
	SLAExceeded string `json:"sla_exceeded,omitempty"`
}

func handleStore(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodySize)
		defer r.Body.Close()

		var doc store.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if doc.ID == "" {
			httpError(w, http.StatusBadRequest, "id is required")
			return
		}

		result, err := deps.Sync.StoreDocument(r.Context(), &doc)
		writeSyncResult(w, result, err)
	}
}

// handleBatchStore syncs several documents in order. The batch stops at the
// first critical failure; results for the documents processed so far are
// always returned.
func handleBatchStore(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodySize)
		defer r.Body.Close()

		var req struct {
			Documents []*store.Document `json:"documents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "documents is required")
			return
		}
		for _, doc := range req.Documents {
			if doc == nil || doc.ID == "" {
				httpError(w, http.StatusBadRequest, "every document needs an id")
				return
			}
		}

		results, err := deps.Sync.BatchStore(r.Context(), req.Documents)
		body := struct {
			Results     []*txn.SyncResult `json:"results"`
			SLAExceeded string            `json:"sla_exceeded,omitempty"`
		}{Results: results}

		if err != nil {
			var slaErr *coordinator.SLAExceededError
			if errors.As(err, &slaErr) {
				body.SLAExceeded = slaErr.Error()
				writeJSON(w, http.StatusOK, body)
				return
			}
			var atomicErr *coordinator.AtomicFailureError
			if errors.As(err, &atomicErr) {
				writeJSON(w, http.StatusBadGateway, body)
				return
			}
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := deps.Sync.DeleteDocument(r.Context(), chi.URLParam(r, "id"))
		writeSyncResult(w, result, err)
	}
}

// writeSyncResult maps engine outcomes onto HTTP: degraded results are
// still 200 (the write succeeded), atomic failures are 502, and an SLA
// breach rides along on an otherwise successful response.
func writeSyncResult(w http.ResponseWriter, result *txn.SyncResult, err error) {
	if err != nil {
		var slaErr *coordinator.SLAExceededError
		if errors.As(err, &slaErr) {
			writeJSON(w, http.StatusOK, syncResponse{SyncResult: result, SLAExceeded: slaErr.Error()})
			return
		}
		var atomicErr *coordinator.AtomicFailureError
		if errors.As(err, &atomicErr) {
			writeJSON(w, http.StatusBadGateway, syncResponse{SyncResult: result})
			return
		}
		httpError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{SyncResult: result})
}

func handleGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Sync.RetrieveDocument(r.Context(), chi.URLParam(r, "id"))
		var slaErr *coordinator.SLAExceededError
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpError(w, http.StatusNotFound, "document not found")
		case errors.As(err, &slaErr):
			writeJSON(w, http.StatusOK, doc)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "%v", err)
		default:
			writeJSON(w, http.StatusOK, doc)
		}
	}
}

func handleConsistency(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Sync.ValidateConsistency(r.Context(), chi.URLParam(r, "id"))
		var slaErr *coordinator.SLAExceededError
		if err != nil && !errors.As(err, &slaErr) {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleRelated(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Related == nil {
			httpError(w, http.StatusServiceUnavailable, "graph store not configured")
			return
		}
		limit := queryInt(r, "limit", 20)
		related, err := deps.Related.RelatedDocuments(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if related == nil {
			related = []string{}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"related": related})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Search == nil {
			httpError(w, http.StatusServiceUnavailable, "vector store not configured")
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "q is required")
			return
		}
		topK := queryInt(r, "k", 10)
		matches, err := deps.Search.SearchSimilar(r.Context(), query, topK)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if matches == nil {
			matches = []SearchMatch{}
		}
		writeJSON(w, http.StatusOK, map[string][]SearchMatch{"matches": matches})
	}
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := deps.Sync.HealthStatus(r.Context())
		status := http.StatusOK
		if report.CoordinatorStatus != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
