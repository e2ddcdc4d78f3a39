package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arec1b0/ml-retraining-pipeline/internal/inference"
)

type Server struct {
	manager      *inference.Manager
	maxBatchSize int
}

func New(manager *inference.Manager, maxBatchSize int) *Server {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	return &Server{manager: manager, maxBatchSize: maxBatchSize}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/models/info", s.handleModelInfo)
	r.Post("/predict", s.handlePredict)
	r.Post("/predict/batch", s.handlePredictBatch)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := s.manager.Loaded()
	status := http.StatusOK
	state := "healthy"
	if !loaded {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":      state,
		"modelLoaded": loaded,
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.manager.Info()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

type predictRequest struct {
	Text string `json:"text"`
}

type predictBatchRequest struct {
	Texts []string `json:"texts"`
}

type predictBatchResponse struct {
	Predictions []inference.Prediction `json:"predictions"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text required")
		return
	}
	predictions, err := s.manager.Predict(r.Context(), []string{req.Text})
	if err != nil {
		s.respondPredictError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, predictions[0])
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var req predictBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Texts) == 0 {
		respondError(w, http.StatusBadRequest, "texts required")
		return
	}
	if len(req.Texts) > s.maxBatchSize {
		respondError(w, http.StatusBadRequest, "batch size exceeds maximum")
		return
	}
	predictions, err := s.manager.Predict(r.Context(), req.Texts)
	if err != nil {
		s.respondPredictError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, predictBatchResponse{Predictions: predictions})
}

func (s *Server) respondPredictError(w http.ResponseWriter, err error) {
	if errors.Is(err, inference.ErrModelNotLoaded) {
		respondError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}
	respondError(w, http.StatusInternalServerError, "prediction failed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
