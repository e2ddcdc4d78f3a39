package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/config"
	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
	"github.com/arec1b0/ml-retraining-pipeline/internal/orchestrator"
	"github.com/arec1b0/ml-retraining-pipeline/internal/store"
)

type Server struct {
	cfg   config.Config
	orch  *orchestrator.Orchestrator
	store store.Store
}

func New(cfg config.Config, orch *orchestrator.Orchestrator, st store.Store) *Server {
	return &Server{cfg: cfg, orch: orch, store: st}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/health", s.handleHealth)
		r.Route("/pipeline", func(r chi.Router) {
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Get("/model/current", s.handleCurrentModel)
			r.Get("/model/history", s.handleModelHistory)
			r.Get("/promotions/{promotionID}/notifications", s.handleNotifications)
		})
	})

	// The trigger route stays outside the 30s group: a synchronous run
	// waits on training.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.TrainerTimeout + time.Minute))
		r.Use(s.writeAuth)
		r.Post("/pipeline/runs", s.handleTriggerRun)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type triggerRequest struct {
	// RunID is optional; when set it becomes the run's idempotency key,
	// otherwise one is generated.
	RunID        string `json:"runId"`
	DatasetRef   string `json:"datasetRef"`
	ForceRetrain bool   `json:"forceRetrain"`
	RequestedBy  string `json:"requestedBy"`
}

// runResponse is the caller-facing view of a RunOutcome. Internal error
// detail stays in the logs.
type runResponse struct {
	RunID       uuid.UUID       `json:"runId"`
	Decision    models.Decision `json:"decision"`
	CompletedAt time.Time       `json:"completedAt"`
}

func toRunResponse(outcome models.RunOutcome) runResponse {
	return runResponse{
		RunID:       outcome.RunID,
		Decision:    outcome.Decision,
		CompletedAt: outcome.CompletedAt,
	}
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var runID uuid.UUID
	if req.RunID != "" {
		parsed, err := uuid.Parse(req.RunID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid run id")
			return
		}
		runID = parsed
	}
	datasetRef := req.DatasetRef
	if datasetRef == "" {
		datasetRef = s.cfg.DatasetRef
	}
	outcome, err := s.orch.Run(r.Context(), models.RunRequest{
		RunID:        runID,
		DatasetRef:   datasetRef,
		ForceRetrain: req.ForceRetrain,
		RequestedBy:  req.RequestedBy,
	})
	if errors.Is(err, orchestrator.ErrConcurrentRun) {
		respondJSON(w, http.StatusConflict, toRunResponse(outcome))
		return
	}
	respondJSON(w, http.StatusOK, toRunResponse(outcome))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	outcome, err := s.store.GetRunOutcome(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "run not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, toRunResponse(outcome))
}

func (s *Server) handleCurrentModel(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.CurrentPromotion(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec.IsZero() {
		respondError(w, http.StatusNotFound, "no model promoted yet")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleModelHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.PromotionHistory(r.Context(), 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if records == nil {
		records = []models.PromotionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid promotion id")
		return
	}
	attempts, err := s.store.ListNotificationAttempts(r.Context(), promotionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if attempts == nil {
		attempts = []models.NotificationAttempt{}
	}
	respondJSON(w, http.StatusOK, attempts)
}

// writeAuth gates mutating routes on a bearer JWT, with the debug-token
// escape hatch for local development.
func (s *Server) writeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowDebugToken {
			if token := r.Header.Get("X-Debug-Token"); token != "" && token == s.cfg.DebugToken {
				next.ServeHTTP(w, r)
				return
			}
		}
		if s.cfg.JWTSecret == "" {
			respondError(w, http.StatusUnauthorized, "debug token required")
			return
		}
		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
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
