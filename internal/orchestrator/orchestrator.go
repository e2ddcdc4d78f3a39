// Package orchestrator drives the retraining decision pipeline: decide
// whether to retrain, train a candidate, evaluate it against the
// promoted model, commit the promotion, and notify the deployment
// system. Promotion correctness depends on that exact ordering, so the
// sequence is an explicit state machine rather than a convention.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/evaluate"
	"github.com/arec1b0/ml-retraining-pipeline/internal/events"
	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
	"github.com/arec1b0/ml-retraining-pipeline/internal/notifier"
	"github.com/arec1b0/ml-retraining-pipeline/internal/reports"
	"github.com/arec1b0/ml-retraining-pipeline/internal/signals"
	"github.com/arec1b0/ml-retraining-pipeline/internal/store"
	"github.com/arec1b0/ml-retraining-pipeline/internal/trainer"
)

// State names one phase of a run.
type State string

const (
	StateIdle       State = "IDLE"
	StateValidating State = "VALIDATING"
	StateTraining   State = "TRAINING"
	StateEvaluating State = "EVALUATING"
	StatePromoting  State = "PROMOTING"
	StateNotifying  State = "NOTIFYING"
	StateDone       State = "DONE"
	StateSkipped    State = "SKIPPED"
	StateFailed     State = "FAILED"
)

var (
	// ErrConcurrentRun means the single-flight lock was held by another
	// active run. The caller may re-submit later; nothing is queued.
	ErrConcurrentRun = errors.New("another pipeline run is active")

	// ErrInvalidData means the data-quality gate failed. Retraining on
	// invalid data is never attempted and the run is not retried.
	ErrInvalidData = errors.New("data quality gate failed")
)

type Config struct {
	// ModelName is the registry name promoted identifiers derive from.
	ModelName string

	// Epsilon is the evaluator's minimum-improvement threshold.
	Epsilon float64

	Logger *log.Logger
}

// Orchestrator owns the run lifecycle. At most one run is active per
// process; mu is the single-flight lock keyed on the one model identity
// there is to promote.
type Orchestrator struct {
	st        store.Store
	source    signals.Source
	trainer   trainer.Trainer
	notifier  notifier.Notifier
	evaluator evaluate.Evaluator
	publisher events.Publisher
	archiver  reports.Archiver
	modelName string
	logger    *log.Logger

	mu sync.Mutex
}

func New(st store.Store, source signals.Source, tr trainer.Trainer, nt notifier.Notifier, pub events.Publisher, arch reports.Archiver, cfg Config) *Orchestrator {
	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "prod-sentiment-classifier"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[orchestrator] ", log.LstdFlags)
	}
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if arch == nil {
		arch = reports.NopArchiver{}
	}
	return &Orchestrator{
		st:        st,
		source:    source,
		trainer:   tr,
		notifier:  nt,
		evaluator: evaluate.Evaluator{Epsilon: cfg.Epsilon},
		publisher: pub,
		archiver:  arch,
		modelName: modelName,
		logger:    logger,
	}
}

// Run executes one pass of the pipeline and always returns a terminal
// RunOutcome. The returned error carries internal detail for logs; the
// outcome's decision is the only thing callers should surface.
func (o *Orchestrator) Run(ctx context.Context, req models.RunRequest) (models.RunOutcome, error) {
	if req.RunID == uuid.Nil {
		req.RunID = uuid.New()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	if !o.mu.TryLock() {
		o.logger.Printf("run %s rejected, another run holds the pipeline lock", req.RunID)
		return o.finish(ctx, req.RunID, models.DecisionConcurrentRejected, ErrConcurrentRun)
	}
	defer o.mu.Unlock()

	o.transition(req.RunID, StateIdle, StateValidating)
	outcome, err := o.execute(ctx, req)
	return outcome, err
}

// execute runs VALIDATING through a terminal state with the lock held.
func (o *Orchestrator) execute(ctx context.Context, req models.RunRequest) (models.RunOutcome, error) {
	// Quality is checked before drift: bad data is a hard stop that
	// should not cost a drift computation.
	quality, err := o.source.QualityVerdict(ctx, req.DatasetRef)
	if err != nil {
		return o.fail(ctx, req.RunID, StateValidating, fmt.Errorf("quality verdict: %w", err))
	}
	if !quality.Passed {
		o.logger.Printf("run %s failed expectations: %v", req.RunID, quality.FailedExpectations)
		return o.fail(ctx, req.RunID, StateValidating, fmt.Errorf("%d expectations failed: %w", len(quality.FailedExpectations), ErrInvalidData))
	}

	current, err := o.st.CurrentPromotion(ctx)
	if err != nil {
		return o.fail(ctx, req.RunID, StateValidating, fmt.Errorf("read promotion head: %w", err))
	}

	drift, err := o.source.DriftVerdict(ctx, req.DatasetRef, current.ModelID)
	if err != nil {
		return o.fail(ctx, req.RunID, StateValidating, fmt.Errorf("drift verdict: %w", err))
	}
	if ref, err := o.archiver.ArchiveDriftSummary(ctx, req.RunID, drift); err != nil {
		o.logger.Printf("run %s archive drift summary: %v", req.RunID, err)
	} else if ref != "" {
		drift.SummaryRef = ref
	}

	if !req.ForceRetrain && !drift.RetrainNeeded() {
		o.transition(req.RunID, StateValidating, StateSkipped)
		return o.finish(ctx, req.RunID, models.DecisionSkipped, nil)
	}

	o.transition(req.RunID, StateValidating, StateTraining)
	candidate, err := o.trainer.Train(ctx, req.RunID, req.DatasetRef)
	if err != nil {
		return o.fail(ctx, req.RunID, StateTraining, fmt.Errorf("train candidate: %w", err))
	}

	o.transition(req.RunID, StateTraining, StateEvaluating)
	// The head re-read here fixes expectedPriorId for the CAS commit.
	current, err = o.st.CurrentPromotion(ctx)
	if err != nil {
		return o.fail(ctx, req.RunID, StateEvaluating, fmt.Errorf("read promotion head: %w", err))
	}
	result := o.evaluator.Compare(candidate, current)
	o.logger.Printf("run %s evaluated candidate %.4f: %s", req.RunID, candidate.MetricValue, result.Reason)
	if !result.Accepted {
		o.transition(req.RunID, StateEvaluating, StateDone)
		return o.finish(ctx, req.RunID, models.DecisionTrainedNotPromoted, nil)
	}

	o.transition(req.RunID, StateEvaluating, StatePromoting)
	record, err := o.st.CommitPromotion(ctx, store.CommitInput{
		ModelID:           fmt.Sprintf("%s-%s", o.modelName, candidate.RunID),
		ArtifactRef:       candidate.ArtifactRef,
		MetricValue:       candidate.MetricValue,
		PromotedFromRunID: candidate.RunID,
		ExpectedPriorID:   current.ID,
	})
	if err != nil {
		// Conflict or storage error: the candidate is discarded and no
		// partial promotion is ever visible.
		return o.fail(ctx, req.RunID, StatePromoting, fmt.Errorf("commit promotion: %w", err))
	}
	o.logger.Printf("run %s promoted %s metric=%.4f", req.RunID, record.ModelID, record.MetricValue)
	if err := o.publisher.PublishPromotion(ctx, record); err != nil {
		o.logger.Printf("run %s publish promotion event: %v", req.RunID, err)
	}

	o.transition(req.RunID, StatePromoting, StateNotifying)
	if _, err := o.notifier.Notify(ctx, record); err != nil {
		// Absorbed: notification failure never unwinds a promotion.
		o.logger.Printf("run %s deployment notification: %v", req.RunID, err)
	}

	o.transition(req.RunID, StateNotifying, StateDone)
	return o.finish(ctx, req.RunID, models.DecisionPromoted, nil)
}

func (o *Orchestrator) fail(ctx context.Context, runID uuid.UUID, from State, cause error) (models.RunOutcome, error) {
	o.transition(runID, from, StateFailed)
	o.logger.Printf("run %s failed in %s: %v", runID, from, cause)
	outcome, err := o.finish(ctx, runID, models.DecisionFailed, cause)
	if err != nil {
		return outcome, err
	}
	return outcome, cause
}

// finish records the terminal outcome and publishes it. Outcome rows are
// written exactly once per run id.
func (o *Orchestrator) finish(ctx context.Context, runID uuid.UUID, decision models.Decision, cause error) (models.RunOutcome, error) {
	in := store.RunOutcomeInput{RunID: runID, Decision: decision}
	if cause != nil {
		in.Error = cause.Error()
	}
	outcome, err := o.st.InsertRunOutcome(ctx, in)
	if err != nil {
		o.logger.Printf("run %s record outcome: %v", runID, err)
		outcome = models.RunOutcome{
			RunID:       runID,
			Decision:    decision,
			Error:       in.Error,
			CompletedAt: time.Now().UTC(),
		}
	}
	if err := o.publisher.PublishRunCompleted(ctx, outcome); err != nil {
		o.logger.Printf("run %s publish outcome event: %v", runID, err)
	}
	if cause != nil && decision == models.DecisionConcurrentRejected {
		return outcome, cause
	}
	return outcome, nil
}

func (o *Orchestrator) transition(runID uuid.UUID, from, to State) {
	o.logger.Printf("run %s %s -> %s", runID, from, to)
}

// Reconcile runs once at startup. If the ledger head points at a run
// with no recorded outcome (a crash between commit and outcome write),
// the missing promoted outcome is synthesized instead of guessing at a
// retry policy.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	head, err := o.st.CurrentPromotion(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: read promotion head: %w", err)
	}
	if head.IsZero() {
		return nil
	}
	_, err = o.st.GetRunOutcome(ctx, head.PromotedFromRunID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reconcile: read outcome for run %s: %w", head.PromotedFromRunID, err)
	}
	o.logger.Printf("reconcile: head %s has no outcome for run %s, recording promoted", head.ID, head.PromotedFromRunID)
	if _, err := o.st.InsertRunOutcome(ctx, store.RunOutcomeInput{
		RunID:    head.PromotedFromRunID,
		Decision: models.DecisionPromoted,
	}); err != nil {
		return fmt.Errorf("reconcile: record outcome: %w", err)
	}
	return nil
}
