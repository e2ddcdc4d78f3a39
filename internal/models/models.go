package models

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the terminal classification of a pipeline run.
type Decision string

const (
	DecisionSkipped            Decision = "skipped"
	DecisionTrainedNotPromoted Decision = "trained_not_promoted"
	DecisionPromoted           Decision = "promoted"
	DecisionFailed             Decision = "failed"
	DecisionConcurrentRejected Decision = "concurrent_run_rejected"
)

// RunRequest triggers one pass of the retraining pipeline. RunID doubles
// as the idempotency key for everything the run produces.
type RunRequest struct {
	RunID        uuid.UUID `json:"runId"`
	DatasetRef   string    `json:"datasetRef"`
	ForceRetrain bool      `json:"forceRetrain"`
	RequestedAt  time.Time `json:"requestedAt"`
	RequestedBy  string    `json:"requestedBy,omitempty"`
}

// QualityVerdict is the data-quality gate result for a dataset snapshot.
type QualityVerdict struct {
	Passed             bool     `json:"passed"`
	FailedExpectations []string `json:"failedExpectations,omitempty"`
}

// DriftVerdict reports drift and performance degradation for the model
// currently serving. SummaryRef points at the full analysis report.
type DriftVerdict struct {
	DriftDetected       bool   `json:"driftDetected"`
	PerformanceDegraded bool   `json:"performanceDegraded"`
	SummaryRef          string `json:"summaryRef,omitempty"`
}

// RetrainNeeded reports whether either drift signal calls for retraining.
func (v DriftVerdict) RetrainNeeded() bool {
	return v.DriftDetected || v.PerformanceDegraded
}

// Candidate is a freshly trained, scored model artifact that has not
// been promoted. Immutable after the trainer returns it.
type Candidate struct {
	RunID       uuid.UUID `json:"runId"`
	ArtifactRef string    `json:"artifactRef"`
	MetricValue float64   `json:"metricValue"`
	TrainedAt   time.Time `json:"trainedAt"`
}

// PromotionRecord is one committed entry of the promotion ledger. The
// ledger head is the model of record for serving.
type PromotionRecord struct {
	ID                uuid.UUID `json:"id"`
	ModelID           string    `json:"modelId"`
	ArtifactRef       string    `json:"artifactRef"`
	MetricValue       float64   `json:"metricValue"`
	PromotedAt        time.Time `json:"promotedAt"`
	PromotedFromRunID uuid.UUID `json:"promotedFromRunId"`
}

// IsZero reports whether the record is the "no model promoted yet"
// sentinel returned before the first commit.
func (r PromotionRecord) IsZero() bool {
	return r.ID == uuid.Nil
}

// NotificationAttempt is one row of the append-only deployment
// notification audit trail.
type NotificationAttempt struct {
	ID            uuid.UUID     `json:"id"`
	PromotionID   uuid.UUID     `json:"promotionId"`
	AttemptNumber int           `json:"attemptNumber"`
	SentAt        time.Time     `json:"sentAt"`
	Outcome       NotifyOutcome `json:"outcome"`
	HTTPStatus    int           `json:"httpStatus,omitempty"`
	Detail        string        `json:"detail,omitempty"`
}

// NotifyOutcome classifies a single notification attempt.
type NotifyOutcome string

const (
	NotifySuccess       NotifyOutcome = "success"
	NotifyFailure       NotifyOutcome = "failure"
	NotifyTimeout       NotifyOutcome = "timeout"
	NotifyDisabled      NotifyOutcome = "disabled"
	NotifyMisconfigured NotifyOutcome = "misconfigured"
)

// RunOutcome is the immutable terminal record of a run.
type RunOutcome struct {
	RunID       uuid.UUID `json:"runId"`
	Decision    Decision  `json:"decision"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}
