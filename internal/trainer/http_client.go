package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

// ErrTrainingTimeout marks a training call that exceeded its deadline.
var ErrTrainingTimeout = errors.New("training timed out")

type HTTPTrainerConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPTrainer submits a training request to a remote training service
// and waits synchronously for the scored artifact. Training runs long;
// the call is bounded by Timeout and cancellable through ctx. Failures
// are not retried within a run.
type HTTPTrainer struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPTrainer(cfg HTTPTrainerConfig) (*HTTPTrainer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("trainer base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/train"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPTrainer{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
	}, nil
}

type trainResponse struct {
	ArtifactRef string  `json:"artifactRef"`
	MetricValue float64 `json:"metricValue"`
}

func (t *HTTPTrainer) Train(ctx context.Context, runID uuid.UUID, datasetRef string) (models.Candidate, error) {
	payload := map[string]interface{}{
		"runId":      runID.String(),
		"datasetRef": datasetRef,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Candidate{}, fmt.Errorf("marshal train request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.baseURL+t.path, bytes.NewReader(body))
	if err != nil {
		return models.Candidate{}, fmt.Errorf("build train request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return models.Candidate{}, fmt.Errorf("train call after %s: %w", t.timeout, ErrTrainingTimeout)
		}
		return models.Candidate{}, fmt.Errorf("train call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return models.Candidate{}, fmt.Errorf("trainer returned %s", resp.Status)
	}
	var tr trainResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return models.Candidate{}, fmt.Errorf("decode train response: %w", err)
	}
	if tr.ArtifactRef == "" {
		return models.Candidate{}, fmt.Errorf("trainer response missing artifactRef")
	}
	return models.Candidate{
		RunID:       runID,
		ArtifactRef: tr.ArtifactRef,
		MetricValue: tr.MetricValue,
		TrainedAt:   time.Now().UTC(),
	}, nil
}
