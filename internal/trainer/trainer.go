// Package trainer produces scored model candidates from validated
// dataset snapshots. Training itself is a black box; this package only
// defines the boundary and two implementations of it.
package trainer

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

type Trainer interface {
	// Train blocks until a scored candidate is available or ctx is
	// cancelled. A run invokes it at most once.
	Train(ctx context.Context, runID uuid.UUID, datasetRef string) (models.Candidate, error)
}

// LocalTrainer fabricates a deterministic candidate from the dataset
// reference. It exists for local development and tests where no training
// service is reachable.
type LocalTrainer struct {
	ArtifactBucket string
	// BaseMetric anchors the derived metric; the dataset hash perturbs it
	// within [BaseMetric, BaseMetric+0.1).
	BaseMetric float64
	Delay      time.Duration
}

func NewLocalTrainer() *LocalTrainer {
	return &LocalTrainer{
		ArtifactBucket: "ml-retrain-dev",
		BaseMetric:     0.80,
	}
}

func (t *LocalTrainer) Train(ctx context.Context, runID uuid.UUID, datasetRef string) (models.Candidate, error) {
	if t.Delay > 0 {
		select {
		case <-ctx.Done():
			return models.Candidate{}, ctx.Err()
		case <-time.After(t.Delay):
		}
	}
	if ctx.Err() != nil {
		return models.Candidate{}, ctx.Err()
	}
	sum := sha256.Sum256([]byte(datasetRef + runID.String()))
	jitter := float64(binary.BigEndian.Uint16(sum[:2])) / 65535.0 * 0.1
	return models.Candidate{
		RunID:       runID,
		ArtifactRef: fmt.Sprintf("s3://%s/artifacts/%s.model", t.ArtifactBucket, runID),
		MetricValue: t.BaseMetric + jitter,
		TrainedAt:   time.Now().UTC(),
	}, nil
}
