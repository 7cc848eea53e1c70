// api/server.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"delay-predictor/internal/config"
	"delay-predictor/internal/domain"
	"delay-predictor/internal/infrastructure"
	"delay-predictor/internal/prediction"
	"delay-predictor/internal/repository"
)

type Server struct {
	router    *mux.Router
	cache     *prediction.Cache
	decoder   *infrastructure.RecordDecoder
	repo      repository.ModelRepository
	config    *config.Config
	validator *validator.Validate
	log       *zap.Logger
	server    *http.Server
}

func NewServer(cache *prediction.Cache, decoder *infrastructure.RecordDecoder,
	repo repository.ModelRepository, cfg *config.Config, log *zap.Logger) *Server {

	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		router:    mux.NewRouter(),
		cache:     cache,
		decoder:   decoder,
		repo:      repo,
		config:    cfg,
		validator: validator.New(),
		log:       log,
	}

	s.setupRoutes()
	s.setupMiddleware()

	return s
}

func (s *Server) setupRoutes() {
	// API v1
	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/predictions/{delayType}", s.predictDelay).Methods("POST")
	apiRouter.HandleFunc("/models", s.listModels).Methods("GET")

	// Health endpoint
	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")

	// Default 404 handler
	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Health checks stay out of the logs.
		if r.URL.Path != "/health" {
			s.log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr))
		}

		next.ServeHTTP(w, r)

		if r.URL.Path != "/health" {
			s.log.Info("response",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic recovered", zap.Any("error", err))
				s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Handlers
func (s *Server) predictDelay(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	delayType := domain.DelayType(vars["delayType"])
	if delayType != domain.DelayTypeArrival && delayType != domain.DelayTypeDeparture {
		s.respondWithError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown delay type %q", vars["delayType"]))
		return
	}

	var req domain.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.validator.Struct(req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	row, err := s.decoder.DecodeRequest(req)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cached := s.cache.Get(delayType)
	if cached == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "model unavailable")
		return
	}

	value, err := cached.Pipeline.Predict(*row)
	if err != nil {
		s.log.Error("prediction failed",
			zap.String("delay_type", string(delayType)), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "prediction failed")
		return
	}

	response := map[string]any{
		"delayType":      string(delayType),
		"predictedDelay": int(math.Round(value)),
		"modelId":        cached.ModelID,
		"modelCreatedAt": cached.CreatedAt.UTC().Format(time.RFC3339),
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parseInt(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	models, err := s.repo.ListModels(r.Context(), limit)
	if err != nil {
		s.log.Error("failed to list models", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch models")
		return
	}

	response := map[string]any{
		"models": models,
		"count":  len(models),
		"limit":  limit,
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	loaded := map[string]bool{}
	for _, t := range domain.DelayTypes() {
		loaded[string(t)] = s.cache.Get(t) != nil
	}

	response := map[string]any{
		"status":    "healthy",
		"service":   "delay-predictor-api",
		"models":    loaded,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
	}

	s.respondWithJSON(w, http.StatusOK, response)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithError(w, http.StatusNotFound, "Endpoint not found")
}

// Helper functions
func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, message string) {
	response := map[string]string{"error": message}
	s.respondWithJSON(w, status, response)
}

func parseInt(str string) (int, error) {
	var n int
	_, err := fmt.Sscanf(str, "%d", &n)
	return n, err
}

// Server lifecycle
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.ServerPort,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting REST API server", zap.String("addr", s.config.ServerPort))
	return s.server.ListenAndServe()
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		s.log.Info("shutting down API server")
		return s.server.Shutdown(ctx)
	}
	return nil
}
