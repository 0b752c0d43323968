package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/Babbler/pkg/markov"
)

// Server wires the generation, stats and settings APIs onto one mux.
type Server struct {
	cm        *ConfigManager
	logger    *slog.Logger
	metrics   *Metrics
	authAPI   *AuthAPI
	markovAPI *MarkovAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	mux       *http.ServeMux
}

// NewServer builds the HTTP surface around an already loaded model.
func NewServer(cm *ConfigManager, model *markov.Model, store *markov.Store, logger *slog.Logger, opts ...markov.GeneratorOption) *Server {
	cfg := cm.Get()
	genOpts := append([]markov.GeneratorOption{
		markov.WithMaxWalkSteps(cfg.Core.MaxWalkSteps),
		markov.WithLogger(logger),
	}, opts...)
	gen := markov.NewGenerator(model, genOpts...)
	metrics := NewMetrics()

	authAPI := NewAuthAPI(cm, logger)
	server := &Server{
		cm:        cm,
		logger:    logger,
		metrics:   metrics,
		authAPI:   authAPI,
		markovAPI: NewMarkovAPI(gen, markov.NewDefaultTokenizer(), cm, metrics, logger),
		statsAPI:  NewStatsAPI(model, store, metrics, logger),
		serverAPI: NewServerAPI(cm, authAPI, metrics, logger),
		mux:       http.NewServeMux(),
	}

	server.markovAPI.RegisterRoutes(server.mux)
	server.statsAPI.RegisterRoutes(server.mux)
	server.serverAPI.RegisterRoutes(server.mux)
	server.mux.Handle("/metrics", metrics.Handler())

	return server
}

// ServeHTTP makes the Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting babbler server", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped.")
	return nil
}
