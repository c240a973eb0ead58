// Package actionapi exposes the HTTP surface for operator callbacks:
// Slack interactivity, solution capture, similarity lookups, and health.
package actionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/incident"
	"github.com/linnemanlabs/beacon/internal/retrieval"
)

const (
	defaultLimit = 5
	maxLimit     = 50
)

// ActionService applies operator actions to incidents.
type ActionService interface {
	Apply(ctx context.Context, action string, incidentID int64, user string) error
	AddSolution(ctx context.Context, incidentID int64, solution, user string) error
}

// Searcher runs similarity retrieval for the ad-hoc search endpoint.
type Searcher interface {
	SearchWithThreshold(ctx context.Context, q retrieval.Query, topK int, threshold float64) retrieval.Result
}

// Store is the read slice of the incident store the API needs.
type Store interface {
	ListRecentMemory(ctx context.Context, service string, labels []string, limit int) ([]incident.MemoryItem, error)
	Ping(ctx context.Context) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	actions  ActionService
	searcher Searcher
	store    Store
}

// New creates a new API handler.
func New(logger log.Logger, actions ActionService, searcher Searcher, store Store) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if actions == nil {
		panic(xerrors.New("action service is required"))
	}
	if store == nil {
		panic(xerrors.New("store is required"))
	}
	return &API{
		logger:   logger,
		actions:  actions,
		searcher: searcher,
		store:    store,
	}
}

// RegisterRoutes attaches API endpoints to the router. verify, when
// non-nil, wraps the Slack interactivity endpoint with request signature
// verification.
func (a *API) RegisterRoutes(r chi.Router, verify func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		if verify != nil {
			r.With(verify).Post("/slack/actions", a.handleSlackAction)
		} else {
			r.Post("/slack/actions", a.handleSlackAction)
		}
		r.Post("/incidents/{id}/solution", a.handleAddSolution)
		r.Get("/incidents/similar", a.handleSimilar)
		r.Post("/search", a.handleSearch)
		r.Get("/health", a.handleHealth)
	})
}

func (a *API) handleAddSolution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int64("beacon.incident.id", id))

	var req struct {
		Solution string `json:"solution"`
		User     string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Solution) == "" {
		writeError(w, http.StatusBadRequest, "solution is required")
		return
	}
	if req.User == "" {
		req.User = "api"
	}

	if err := a.actions.AddSolution(r.Context(), id, req.Solution, req.User); err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		a.logger.Error(r.Context(), err, "add solution failed", "incident_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "solution recorded",
		"success": true,
	})
}

func (a *API) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	service := q.Get("service")
	labels := splitLabels(q.Get("labels"))
	limit := parseLimit(q.Get("limit"))

	items, err := a.store.ListRecentMemory(r.Context(), service, labels, limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "similar incident lookup failed", "service", service)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(items))
	for _, m := range items {
		out = append(out, map[string]any{
			"incident_id":   m.ID,
			"summary":       m.Summary,
			"service":       m.Service,
			"labels":        m.Labels,
			"incident_type": m.IncidentType,
			"solution":      m.Solution,
			"has_solution":  m.HasSolution(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incidents":   out,
		"total_found": len(out),
	})
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	if a.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}

	var req struct {
		Query               string  `json:"query"`
		Limit               int     `json:"limit"`
		SimilarityThreshold float64 `json:"similarity_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}

	result := a.searcher.SearchWithThreshold(r.Context(), retrieval.Query{Text: req.Query}, req.Limit, req.SimilarityThreshold)

	out := make([]map[string]any, 0, len(result.Items))
	for _, m := range result.Items {
		out = append(out, map[string]any{
			"incident_id":   m.ID,
			"summary":       m.Summary,
			"service":       m.Service,
			"labels":        m.Labels,
			"incident_type": m.IncidentType,
			"solution":      m.Solution,
			"has_solution":  m.HasSolution(),
			"similarity":    m.Similarity,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incidents":   out,
		"total_found": len(out),
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "connected"
	status := http.StatusOK
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn(r.Context(), "health database probe failed", "error", err)
		database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":   statusWord(status),
		"database": database,
	})
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

func splitLabels(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
