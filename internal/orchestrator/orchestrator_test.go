package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
	"github.com/arec1b0/ml-retraining-pipeline/internal/orchestrator"
	"github.com/arec1b0/ml-retraining-pipeline/internal/store"
	"github.com/arec1b0/ml-retraining-pipeline/internal/trainer"
)

type stubSource struct {
	quality    models.QualityVerdict
	drift      models.DriftVerdict
	qualityErr error
	driftErr   error
}

func (s *stubSource) QualityVerdict(ctx context.Context, datasetRef string) (models.QualityVerdict, error) {
	return s.quality, s.qualityErr
}

func (s *stubSource) DriftVerdict(ctx context.Context, datasetRef, currentModelRef string) (models.DriftVerdict, error) {
	return s.drift, s.driftErr
}

type stubTrainer struct {
	metric float64
	err    error
	block  time.Duration

	mu    sync.Mutex
	calls int
}

func (s *stubTrainer) Train(ctx context.Context, runID uuid.UUID, datasetRef string) (models.Candidate, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block > 0 {
		select {
		case <-ctx.Done():
			return models.Candidate{}, ctx.Err()
		case <-time.After(s.block):
		}
	}
	if s.err != nil {
		return models.Candidate{}, s.err
	}
	return models.Candidate{
		RunID:       runID,
		ArtifactRef: fmt.Sprintf("s3://test/%s.model", runID),
		MetricValue: s.metric,
		TrainedAt:   time.Now().UTC(),
	}, nil
}

func (s *stubTrainer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubNotifier struct {
	err error

	mu    sync.Mutex
	calls []models.PromotionRecord
}

func (s *stubNotifier) Notify(ctx context.Context, promotion models.PromotionRecord) (models.NotificationAttempt, error) {
	s.mu.Lock()
	s.calls = append(s.calls, promotion)
	s.mu.Unlock()
	if s.err != nil {
		return models.NotificationAttempt{PromotionID: promotion.ID, Outcome: models.NotifyFailure}, s.err
	}
	return models.NotificationAttempt{PromotionID: promotion.ID, AttemptNumber: 1, Outcome: models.NotifySuccess}, nil
}

func (s *stubNotifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newOrchestrator(st store.Store, src *stubSource, tr *stubTrainer, nt *stubNotifier, epsilon float64) *orchestrator.Orchestrator {
	return orchestrator.New(st, src, tr, nt, nil, nil, orchestrator.Config{
		Epsilon: epsilon,
		Logger:  quietLogger(),
	})
}

func seedPromotion(t *testing.T, st store.Store, metric float64) models.PromotionRecord {
	t.Helper()
	rec, err := st.CommitPromotion(context.Background(), store.CommitInput{
		ModelID:           "prod-sentiment-classifier-seed",
		ArtifactRef:       "s3://test/seed.model",
		MetricValue:       metric,
		PromotedFromRunID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("seed promotion: %v", err)
	}
	return rec
}

func TestRunSkippedWhenNoDriftAndLedgerUntouched(t *testing.T) {
	st := store.NewMemoryStore()
	seed := seedPromotion(t, st, 0.85)
	src := &stubSource{quality: models.QualityVerdict{Passed: true}}
	tr := &stubTrainer{metric: 0.90}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0)

	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Decision != models.DecisionSkipped {
		t.Fatalf("expected skipped, got %s", outcome.Decision)
	}
	if tr.callCount() != 0 {
		t.Fatalf("trainer called on skip path")
	}
	head, _ := st.CurrentPromotion(context.Background())
	if head.ID != seed.ID {
		t.Fatalf("ledger head changed on skip path")
	}
	history, _ := st.PromotionHistory(context.Background(), 0)
	if len(history) != 1 {
		t.Fatalf("expected untouched history, got %d entries", len(history))
	}
}

func TestRunFailsOnInvalidDataWithoutTraining(t *testing.T) {
	st := store.NewMemoryStore()
	src := &stubSource{quality: models.QualityVerdict{
		Passed:             false,
		FailedExpectations: []string{"expect_column_values_to_not_be_null:text"},
	}}
	tr := &stubTrainer{metric: 0.90}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0)

	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if !errors.Is(err, orchestrator.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
	if outcome.Decision != models.DecisionFailed {
		t.Fatalf("expected failed, got %s", outcome.Decision)
	}
	if tr.callCount() != 0 {
		t.Fatalf("trainer must never run on invalid data")
	}
	head, _ := st.CurrentPromotion(context.Background())
	if !head.IsZero() {
		t.Fatalf("ledger mutated on invalid data")
	}
	if nt.callCount() != 0 {
		t.Fatalf("notifier called on failed run")
	}
}

func TestForceRetrainBypassesDriftGate(t *testing.T) {
	st := store.NewMemoryStore()
	src := &stubSource{quality: models.QualityVerdict{Passed: true}}
	tr := &stubTrainer{metric: 0.90}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0)

	outcome, err := orch.Run(context.Background(), models.RunRequest{
		DatasetRef:   "data/raw/feedback.csv",
		ForceRetrain: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Decision != models.DecisionPromoted {
		t.Fatalf("expected promoted, got %s", outcome.Decision)
	}
	if tr.callCount() != 1 {
		t.Fatalf("expected one training call, got %d", tr.callCount())
	}
}

func TestTrainerFailureFailsRun(t *testing.T) {
	st := store.NewMemoryStore()
	src := &stubSource{
		quality: models.QualityVerdict{Passed: true},
		drift:   models.DriftVerdict{DriftDetected: true},
	}
	tr := &stubTrainer{err: errors.New("worker pod evicted")}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0)

	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if err == nil {
		t.Fatalf("expected training error")
	}
	if outcome.Decision != models.DecisionFailed {
		t.Fatalf("expected failed, got %s", outcome.Decision)
	}
	if tr.callCount() != 1 {
		t.Fatalf("training must not be retried within a run, got %d calls", tr.callCount())
	}
}

func TestCandidateRejectedIsTrainedNotPromoted(t *testing.T) {
	st := store.NewMemoryStore()
	seed := seedPromotion(t, st, 0.80)
	src := &stubSource{
		quality: models.QualityVerdict{Passed: true},
		drift:   models.DriftVerdict{PerformanceDegraded: true},
	}
	tr := &stubTrainer{metric: 0.80}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0.01)

	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Decision != models.DecisionTrainedNotPromoted {
		t.Fatalf("expected trained_not_promoted, got %s", outcome.Decision)
	}
	head, _ := st.CurrentPromotion(context.Background())
	if head.ID != seed.ID || head.MetricValue != 0.80 {
		t.Fatalf("ledger head changed on rejected candidate")
	}
	if nt.callCount() != 0 {
		t.Fatalf("notifier called without promotion")
	}
}

func TestCandidateAcceptedPromotesAndNotifies(t *testing.T) {
	st := store.NewMemoryStore()
	seedPromotion(t, st, 0.80)
	src := &stubSource{
		quality: models.QualityVerdict{Passed: true},
		drift:   models.DriftVerdict{DriftDetected: true},
	}
	tr := &stubTrainer{metric: 0.82}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0.01)

	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Decision != models.DecisionPromoted {
		t.Fatalf("expected promoted, got %s", outcome.Decision)
	}

	head, _ := st.CurrentPromotion(context.Background())
	if head.MetricValue != 0.82 {
		t.Fatalf("expected head metric 0.82, got %.4f", head.MetricValue)
	}
	if head.PromotedFromRunID != outcome.RunID {
		t.Fatalf("head run id %s does not match run %s", head.PromotedFromRunID, outcome.RunID)
	}
	history, _ := st.PromotionHistory(context.Background(), 0)
	if len(history) != 2 {
		t.Fatalf("expected history to grow by exactly 1, got %d entries", len(history))
	}
	if nt.callCount() != 1 {
		t.Fatalf("expected exactly one notification, got %d", nt.callCount())
	}
}

// conflictStore refuses every commit the way a lost CAS race would.
type conflictStore struct {
	*store.MemoryStore
}

func (c *conflictStore) CommitPromotion(ctx context.Context, in store.CommitInput) (models.PromotionRecord, error) {
	return models.PromotionRecord{}, fmt.Errorf("head moved: %w", store.ErrLedgerConflict)
}

func TestCommitConflictFailsRunWithoutNotification(t *testing.T) {
	st := &conflictStore{MemoryStore: store.NewMemoryStore()}
	src := &stubSource{
		quality: models.QualityVerdict{Passed: true},
		drift:   models.DriftVerdict{DriftDetected: true},
	}
	tr := &stubTrainer{metric: 0.90}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0)

	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if !errors.Is(err, store.ErrLedgerConflict) {
		t.Fatalf("expected ledger conflict, got %v", err)
	}
	if outcome.Decision != models.DecisionFailed {
		t.Fatalf("expected failed, got %s", outcome.Decision)
	}
	if nt.callCount() != 0 {
		t.Fatalf("notifier called for a candidate that was never committed")
	}
	head, _ := st.CurrentPromotion(context.Background())
	if !head.IsZero() {
		t.Fatalf("head set despite refused commit")
	}
	history, _ := st.PromotionHistory(context.Background(), 0)
	if len(history) != 0 {
		t.Fatalf("ledger grew despite refused commit")
	}
}

func TestNotifierFailureDoesNotUnwindPromotion(t *testing.T) {
	st := store.NewMemoryStore()
	src := &stubSource{
		quality: models.QualityVerdict{Passed: true},
		drift:   models.DriftVerdict{DriftDetected: true},
	}
	tr := &stubTrainer{metric: 0.91}
	nt := &stubNotifier{err: errors.New("trigger endpoint down")}
	orch := newOrchestrator(st, src, tr, nt, 0)

	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if err != nil {
		t.Fatalf("notification failure must be absorbed, got %v", err)
	}
	if outcome.Decision != models.DecisionPromoted {
		t.Fatalf("expected promoted despite notifier failure, got %s", outcome.Decision)
	}
	head, _ := st.CurrentPromotion(context.Background())
	if head.MetricValue != 0.91 {
		t.Fatalf("promotion unwound after notifier failure")
	}
}

func TestConcurrentRunRejectedImmediately(t *testing.T) {
	st := store.NewMemoryStore()
	src := &stubSource{
		quality: models.QualityVerdict{Passed: true},
		drift:   models.DriftVerdict{DriftDetected: true},
	}
	tr := &stubTrainer{metric: 0.90, block: 200 * time.Millisecond}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0)

	firstDone := make(chan models.RunOutcome, 1)
	go func() {
		outcome, _ := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
		firstDone <- outcome
	}()

	// Wait for the first run to reach training and hold the lock.
	deadline := time.Now().Add(time.Second)
	for tr.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first run never started training")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	outcome, err := orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if !errors.Is(err, orchestrator.ErrConcurrentRun) {
		t.Fatalf("expected ErrConcurrentRun, got %v", err)
	}
	if outcome.Decision != models.DecisionConcurrentRejected {
		t.Fatalf("expected concurrent_run_rejected, got %s", outcome.Decision)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("rejection must be immediate, took %s", elapsed)
	}

	first := <-firstDone
	if first.Decision != models.DecisionPromoted {
		t.Fatalf("first run expected promoted, got %s", first.Decision)
	}

	// The lock is free again after the terminal state.
	outcome, err = orch.Run(context.Background(), models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if err != nil {
		t.Fatalf("run after release: %v", err)
	}
	if outcome.Decision == models.DecisionConcurrentRejected {
		t.Fatalf("lock not released after terminal state")
	}
}

func TestRunCancellationUnwindsToFailed(t *testing.T) {
	st := store.NewMemoryStore()
	src := &stubSource{
		quality: models.QualityVerdict{Passed: true},
		drift:   models.DriftVerdict{DriftDetected: true},
	}
	tr := &stubTrainer{metric: 0.90, block: 5 * time.Second}
	nt := &stubNotifier{}
	orch := newOrchestrator(st, src, tr, nt, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome, err := orch.Run(ctx, models.RunRequest{DatasetRef: "data/raw/feedback.csv"})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if outcome.Decision != models.DecisionFailed {
		t.Fatalf("expected failed on cancel, got %s", outcome.Decision)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation did not unwind promptly, took %s", elapsed)
	}
}

func TestReconcileRecordsMissingOutcome(t *testing.T) {
	st := store.NewMemoryStore()
	runID := uuid.New()
	if _, err := st.CommitPromotion(context.Background(), store.CommitInput{
		ModelID:           "prod-sentiment-classifier-crashed",
		ArtifactRef:       "s3://test/crashed.model",
		MetricValue:       0.88,
		PromotedFromRunID: runID,
	}); err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	orch := newOrchestrator(st, &stubSource{quality: models.QualityVerdict{Passed: true}}, &stubTrainer{}, &stubNotifier{}, 0)
	if err := orch.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	outcome, err := st.GetRunOutcome(context.Background(), runID)
	if err != nil {
		t.Fatalf("outcome not recorded: %v", err)
	}
	if outcome.Decision != models.DecisionPromoted {
		t.Fatalf("expected synthesized promoted outcome, got %s", outcome.Decision)
	}

	// A second pass is a no-op.
	if err := orch.Reconcile(context.Background()); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
}

var _ trainer.Trainer = (*stubTrainer)(nil)
