// Package evaluate decides whether a trained candidate may replace the
// currently promoted model. The rule is deterministic and does no I/O.
package evaluate

import (
	"fmt"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

// Evaluator accepts a candidate only on strict improvement over the
// current model by more than Epsilon. Ties reject, which keeps noise-level
// metric fluctuations from churning promotions.
type Evaluator struct {
	// Epsilon is the minimum improvement required on top of the current
	// metric. Zero means any strictly greater value wins.
	Epsilon float64
}

// Result explains an accept/reject decision.
type Result struct {
	Accepted bool
	Reason   string
}

// Compare applies the acceptance rule. An empty current record (no model
// promoted yet) always accepts.
func (e Evaluator) Compare(candidate models.Candidate, current models.PromotionRecord) Result {
	if current.IsZero() {
		return Result{
			Accepted: true,
			Reason:   "no model currently promoted",
		}
	}
	threshold := current.MetricValue + e.Epsilon
	if candidate.MetricValue > threshold {
		return Result{
			Accepted: true,
			Reason:   fmt.Sprintf("candidate %.4f beats current %.4f by more than epsilon %.4f", candidate.MetricValue, current.MetricValue, e.Epsilon),
		}
	}
	return Result{
		Accepted: false,
		Reason:   fmt.Sprintf("candidate %.4f does not exceed current %.4f + epsilon %.4f", candidate.MetricValue, current.MetricValue, e.Epsilon),
	}
}
