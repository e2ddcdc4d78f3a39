// Package signals supplies the two gating inputs of a pipeline run: the
// data-quality verdict and the drift/performance verdict for the model
// currently serving. Both are computed by an external monitoring
// collaborator and consumed here as opaque results.
package signals

import (
	"context"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

type Source interface {
	QualityVerdict(ctx context.Context, datasetRef string) (models.QualityVerdict, error)
	DriftVerdict(ctx context.Context, datasetRef, currentModelRef string) (models.DriftVerdict, error)
}

// StaticSource returns fixed verdicts. Used for local development and as
// a test stand-in for the monitoring service.
type StaticSource struct {
	Quality models.QualityVerdict
	Drift   models.DriftVerdict
}

// NewStaticSource builds a source that always passes quality and reports
// no drift, the quiet steady state.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		Quality: models.QualityVerdict{Passed: true},
	}
}

func (s *StaticSource) QualityVerdict(ctx context.Context, datasetRef string) (models.QualityVerdict, error) {
	return s.Quality, nil
}

func (s *StaticSource) DriftVerdict(ctx context.Context, datasetRef, currentModelRef string) (models.DriftVerdict, error) {
	return s.Drift, nil
}
