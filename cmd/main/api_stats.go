package main

import (
	"log/slog"
	"net/http"

	"github.com/CTAG07/Babbler/pkg/markov"
)

// StatsSummary is the JSON response of the stats endpoint.
type StatsSummary struct {
	Model          markov.ModelStats `json:"model"`
	StoredContexts int               `json:"stored_contexts"`
	Runs           []markov.RunInfo  `json:"runs"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	model   *markov.Model
	store   *markov.Store
	metrics *Metrics
	logger  *slog.Logger
}

// NewStatsAPI creates a new instance of the StatsAPI.
func NewStatsAPI(model *markov.Model, store *markov.Store, metrics *Metrics, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		model:   model,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for the stats endpoint.
func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/stats", s.metrics.Instrument("stats", s.handleStats))
}

// handleStats reports the served model together with the training history of
// the count store.
func (s *StatsAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	summary := StatsSummary{
		Model: s.model.GetStats(),
		Runs:  []markov.RunInfo{},
	}

	var err error
	if summary.StoredContexts, err = s.store.ContextCount(r.Context()); err != nil {
		s.logger.Error("Failed to count stored contexts", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}
	runs, err := s.store.Runs(r.Context())
	if err != nil {
		s.logger.Error("Failed to list training runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if runs != nil {
		summary.Runs = runs
	}

	respondWithJSON(w, http.StatusOK, summary)
}
