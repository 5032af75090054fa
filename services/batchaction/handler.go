package batchaction

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Handler serves the batch action HTTP API.
type Handler struct {
	service *Service
	logger  *slog.Logger
	metrics http.Handler
	health  HealthFunc
	router  *chi.Mux
}

// NewHandler creates the HTTP API. metrics and health may be nil.
func NewHandler(svc *Service, logger *slog.Logger, metrics http.Handler, health HealthFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		service: svc,
		logger:  logger.With("component", "handler"),
		metrics: metrics,
		health:  health,
	}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1/projects/{projectId}", func(r chi.Router) {
		r.Get("/evaluators", h.handleListEvaluators)

		r.Route("/batch-actions", func(r chi.Router) {
			r.Get("/", h.handleListBatchActions)
			r.Post("/run-evaluation", h.handleCreateRunEvaluation)
			r.Get("/{batchActionId}", h.handleGetBatchAction)
		})
	})

	h.router = r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleCreateRunEvaluation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string              `json:"userId"`
		Query  Query               `json:"query"`
		Config RunEvaluationConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	job, err := h.service.CreateRunEvaluationAction(r.Context(), CreateRunEvaluationInput{
		ProjectID: chi.URLParam(r, "projectId"),
		UserID:    req.UserID,
		Query:     req.Query,
		Config:    req.Config,
	})
	if err != nil {
		h.respondServiceError(w, r, "failed to create batch action", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":     job.ID,
		"status": job.Status,
	})
}

func (h *Handler) handleGetBatchAction(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetBatchAction(r.Context(), chi.URLParam(r, "projectId"), chi.URLParam(r, "batchActionId"))
	if err != nil {
		h.respondServiceError(w, r, "failed to get batch action", err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *Handler) handleListBatchActions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid page", err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	jobs, total, err := h.service.ListBatchActions(r.Context(), chi.URLParam(r, "projectId"), page, limit)
	if err != nil {
		h.respondServiceError(w, r, "failed to list batch actions", err)
		return
	}
	if jobs == nil {
		jobs = []*BatchAction{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"batchActions": jobs,
		"totalCount":   total,
	})
}

func (h *Handler) handleListEvaluators(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.ListEvaluators(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		h.respondServiceError(w, r, "failed to list evaluators", err)
		return
	}
	if configs == nil {
		configs = []*EvaluatorConfig{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"evaluators": configs})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), message, "error", err)
	}
	respondError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case IsValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
