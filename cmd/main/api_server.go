package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// maxSettingsBytes bounds the body of a settings update.
const maxSettingsBytes = 4 << 10

// ServerAPI holds the dependencies for the settings and diagnostics handlers.
type ServerAPI struct {
	cm      *ConfigManager
	auth    *AuthAPI
	metrics *Metrics
	logger  *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(cm *ConfigManager, auth *AuthAPI, metrics *Metrics, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		cm:      cm,
		auth:    auth,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for the settings and diagnostics endpoints.
// Only the settings endpoint requires the admin token.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/api/settings", a.auth.Authenticate(a.metrics.Instrument("settings", a.handleSettings)))
	mux.Handle("/api/version", a.metrics.Instrument("version", a.handleVersion))
	mux.HandleFunc("/api/health", a.handleHealthCheck)
}

// handleSettings gets or updates the live response settings.
func (a *ServerAPI) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondWithJSON(w, http.StatusOK, a.cm.ResponseSettings())
	case http.MethodPut:
		// Fields missing from the body keep their current value.
		settings := a.cm.ResponseSettings()
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBytes)).Decode(&settings); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if err := settings.Validate(); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.cm.UpdateResponseSettings(settings); err != nil {
			a.logger.Error("Failed to save response settings", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Settings applied but could not be saved to disk")
			return
		}
		respondWithJSON(w, http.StatusOK, settings)
	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
	respondWithJSON(w, http.StatusOK, info)
}

// handleHealthCheck is unauthenticated so something like docker can use it.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
