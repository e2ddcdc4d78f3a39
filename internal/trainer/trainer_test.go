package trainer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/trainer"
)

func TestLocalTrainerDeterministicMetric(t *testing.T) {
	tr := trainer.NewLocalTrainer()
	runID := uuid.New()

	first, err := tr.Train(context.Background(), runID, "data/raw/feedback.csv")
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	second, err := tr.Train(context.Background(), runID, "data/raw/feedback.csv")
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if first.MetricValue != second.MetricValue {
		t.Fatalf("same inputs produced %v then %v", first.MetricValue, second.MetricValue)
	}
	if first.MetricValue < 0.80 || first.MetricValue >= 0.90 {
		t.Fatalf("metric %v outside [0.80, 0.90)", first.MetricValue)
	}
	if first.ArtifactRef == "" {
		t.Fatalf("artifact ref missing")
	}
	if first.RunID != runID {
		t.Fatalf("candidate run id %s, want %s", first.RunID, runID)
	}
}

func TestLocalTrainerHonorsCancellation(t *testing.T) {
	tr := trainer.NewLocalTrainer()
	tr.Delay = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Train(ctx, uuid.New(), "data/raw/feedback.csv")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("train did not return promptly on cancel")
	}
}

func TestHTTPTrainerRoundTrip(t *testing.T) {
	runID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/train" {
			t.Errorf("path %q", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["runId"] != runID.String() {
			t.Errorf("runId %q", body["runId"])
		}
		w.Write([]byte(`{"artifactRef":"s3://models/remote.model","metricValue":0.87}`))
	}))
	defer srv.Close()

	tr, err := trainer.NewHTTPTrainer(trainer.HTTPTrainerConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	candidate, err := tr.Train(context.Background(), runID, "data/raw/feedback.csv")
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if candidate.ArtifactRef != "s3://models/remote.model" {
		t.Fatalf("artifact ref %q", candidate.ArtifactRef)
	}
	if candidate.MetricValue != 0.87 {
		t.Fatalf("metric %v", candidate.MetricValue)
	}
}

func TestHTTPTrainerTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr, err := trainer.NewHTTPTrainer(trainer.HTTPTrainerConfig{
		BaseURL: srv.URL,
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	_, err = tr.Train(context.Background(), uuid.New(), "data/raw/feedback.csv")
	if !errors.Is(err, trainer.ErrTrainingTimeout) {
		t.Fatalf("expected ErrTrainingTimeout, got %v", err)
	}
}

func TestHTTPTrainerRejectsMissingArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metricValue":0.87}`))
	}))
	defer srv.Close()

	tr, err := trainer.NewHTTPTrainer(trainer.HTTPTrainerConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if _, err := tr.Train(context.Background(), uuid.New(), "data/raw/feedback.csv"); err == nil {
		t.Fatalf("expected error for response without artifactRef")
	}
}
