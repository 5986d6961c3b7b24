// Command server exposes the cleaning engine over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/curation/internal/app"
	"github.com/liamcoop/curation/internal/config"
	"github.com/liamcoop/curation/internal/logger"
	"github.com/liamcoop/curation/ledger"
	"github.com/liamcoop/curation/rules"
)

type Server struct {
	app        *app.App
	router     *chi.Mux
	runTimeout time.Duration
}

func NewServer(a *app.App) *Server {
	s := &Server{
		app:        a,
		runTimeout: a.Config.Server.RunTimeout,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.app.Logger))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", s.app.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.handleHealth)

			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{name}", s.handleGetRule)

			r.Get("/stages", s.handleListStages)
			r.Get("/stages/{name}", s.handleGetStage)

			r.Post("/preview", s.handlePreview)
			r.Delete("/preview/cache", s.handleInvalidatePreview)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runId}", s.handleGetRun)
		})

		// runs are bounded by the configured run timeout instead
		r.Post("/runs", s.handleRun)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request through slog
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.app.Ledger.List(r.Context(), 1); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"rules":  len(s.app.Registry.List()),
		"stages": len(s.app.Stages.List()),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	decls := s.app.Registry.List()
	resp := RulesListResponse{Rules: make([]RuleResponse, 0, len(decls))}
	for _, d := range decls {
		resp.Rules = append(resp.Rules, toRuleResponse(d))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	decl, err := s.app.Registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, toRuleResponse(decl))
}

func (s *Server) handleListStages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StagesListResponse{Stages: s.app.Stages.List()})
}

func (s *Server) handleGetStage(w http.ResponseWriter, r *http.Request) {
	def, err := s.app.Stages.Get(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusNotFound, "stage not found", err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

// Preview handler
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, skipped, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	plan, cached, err := s.app.Preview(req)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "failed to preview queries", err)
		return
	}
	respondJSON(w, http.StatusOK, PreviewResponse{Rules: plan, Skipped: skipped, Cached: cached})
}

func (s *Server) handleInvalidatePreview(w http.ResponseWriter, r *http.Request) {
	s.app.PreviewCache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// Run handler. Runs are synchronous; the response carries the ledger record.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, skipped, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	rec, err := s.app.Run(ctx, req)
	resp := RunResponse{Run: rec, Skipped: skipped}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := s.app.Ledger.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []ledger.Record{}
	}
	respondJSON(w, http.StatusOK, RunsListResponse{Runs: runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.app.Ledger.Get(r.Context(), chi.URLParam(r, "runId"))
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get run", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// decodeRunRequest writes the error response itself and reports false on
// failure
func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (rules.RunRequest, []string, bool) {
	var body RunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return rules.RunRequest{}, nil, false
	}
	if err := body.Target.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid target", err)
		return rules.RunRequest{}, nil, false
	}

	req, skipped, err := s.app.Request(body.selection())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule selection", err)
		return rules.RunRequest{}, nil, false
	}
	return req, skipped, true
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	ctx := context.Background()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, shutdown, err := logger.New(ctx, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		logger.Fatal(ctx, log, shutdown, "failed to create app", "error", err)
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      NewServer(a),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Info("server starting", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, log, shutdown, "server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := a.Metrics.Flush(); err != nil {
		log.Warn("final metrics push failed", "error", err)
	}

	log.Info("server stopped")
	if err := shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
	}
}
