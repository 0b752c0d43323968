package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/Babbler/pkg/markov"
)

// maxMessageBytes bounds the body of a respond request.
const maxMessageBytes = 64 << 10

// MarkovAPI holds the dependencies for the generation handlers.
type MarkovAPI struct {
	gen       *markov.Generator
	responder *markov.Responder
	sanitizer markov.Sanitizer
	cm        *ConfigManager
	metrics   *Metrics
	logger    *slog.Logger
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(gen *markov.Generator, sanitizer markov.Sanitizer, cm *ConfigManager, metrics *Metrics, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		gen:       gen,
		responder: markov.NewResponder(gen, sanitizer),
		sanitizer: sanitizer,
		cm:        cm,
		metrics:   metrics,
		logger:    logger,
	}
}

// RegisterRoutes sets up the routing for the generation endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/respond", m.metrics.Instrument("respond", m.handleRespond))
	mux.Handle("/api/generate", m.metrics.Instrument("generate", m.handleGenerate))
}

// RespondRequest is the expected JSON body for a chat message.
type RespondRequest struct {
	Message string `json:"message"`
}

// RespondResponse is the JSON response when the bot decides to reply.
type RespondResponse struct {
	Reply string `json:"reply"`
}

// GenerateResponse is the JSON response of a generation request.
type GenerateResponse struct {
	Sentence string `json:"sentence"`
}

// handleRespond treats the body as an inbound chat message. It answers with a
// reply, or 204 when the bot stays silent.
func (m *MarkovAPI) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	start := time.Now()
	reply, ok, err := m.responder.Respond(r.Context(), req.Message, m.cm.ResponseSettings())
	if errors.Is(err, markov.ErrNoCandidates) {
		m.metrics.RecordReply(outcomeNoSeed)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		m.metrics.RecordReply(outcomeFailed)
		m.logger.Error("Failed to generate reply", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Generation failed")
		return
	}
	if !ok {
		m.metrics.RecordReply(outcomeSkipped)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	m.metrics.ObserveGeneration(start)
	m.metrics.RecordReply(outcomeReplied)

	m.logger.Debug("Replying to message", "message_bytes", len(req.Message), "reply", reply)
	respondWithJSON(w, http.StatusOK, RespondResponse{Reply: reply})
}

// handleGenerate returns one sentence, seeded with the optional "seed" query
// parameter. The seed is sanitized like the corpus, so "Fish" finds "fish".
func (m *MarkovAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	seed := m.sanitizer.Sanitize(r.URL.Query().Get("seed"))
	start := time.Now()
	sentence, err := m.gen.Generate(r.Context(), seed)
	if err != nil {
		if errors.Is(err, markov.ErrNoCandidates) {
			m.metrics.RecordReply(outcomeNoSeed)
			respondWithError(w, http.StatusNotFound, "No context contains the seed")
			return
		}
		m.logger.Error("Failed to generate sentence", "seed", seed, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Generation failed")
		return
	}
	m.metrics.ObserveGeneration(start)

	respondWithJSON(w, http.StatusOK, GenerateResponse{Sentence: sentence})
}
