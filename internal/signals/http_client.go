package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

type HTTPSourceConfig struct {
	BaseURL     string
	QualityPath string
	DriftPath   string
	Timeout     time.Duration
	Retries     int
	HTTPClient  *http.Client
}

// HTTPSource queries a remote monitoring service for quality and drift
// verdicts. Failures after retries are returned to the caller and are
// fatal to the run.
type HTTPSource struct {
	baseURL     string
	qualityPath string
	driftPath   string
	client      *http.Client
	timeout     time.Duration
	retries     int
}

func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("monitoring base url required")
	}
	qualityPath := cfg.QualityPath
	if qualityPath == "" {
		qualityPath = "/monitoring/quality"
	}
	driftPath := cfg.DriftPath
	if driftPath == "" {
		driftPath = "/monitoring/drift"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPSource{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		qualityPath: qualityPath,
		driftPath:   driftPath,
		client:      client,
		timeout:     timeout,
		retries:     retries,
	}, nil
}

func (s *HTTPSource) QualityVerdict(ctx context.Context, datasetRef string) (models.QualityVerdict, error) {
	payload := map[string]interface{}{
		"datasetRef": datasetRef,
	}
	var verdict models.QualityVerdict
	if err := s.post(ctx, s.qualityPath, payload, &verdict); err != nil {
		return models.QualityVerdict{}, fmt.Errorf("quality verdict: %w", err)
	}
	return verdict, nil
}

func (s *HTTPSource) DriftVerdict(ctx context.Context, datasetRef, currentModelRef string) (models.DriftVerdict, error) {
	payload := map[string]interface{}{
		"datasetRef":      datasetRef,
		"currentModelRef": currentModelRef,
	}
	var verdict models.DriftVerdict
	if err := s.post(ctx, s.driftPath, payload, &verdict); err != nil {
		return models.DriftVerdict{}, fmt.Errorf("drift verdict: %w", err)
	}
	return verdict, nil
}

func (s *HTTPSource) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	attempts := s.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lastErr = s.postOnce(ctx, path, body, out); lastErr == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return fmt.Errorf("monitoring call failed: %w", lastErr)
}

func (s *HTTPSource) postOnce(ctx context.Context, path string, body []byte, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeVerdict(resp, out)
}

func decodeVerdict(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 500 {
		return fmt.Errorf("monitoring unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monitoring rejected request: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode verdict: %w", err)
	}
	return nil
}
