package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

// MemoryStore is a process-local Store used by tests and local
// development. It preserves the PGStore semantics, including the
// compare-and-swap head discipline.
type MemoryStore struct {
	mu       sync.RWMutex
	headID   uuid.UUID
	ledger   map[uuid.UUID]models.PromotionRecord
	attempts []models.NotificationAttempt
	outcomes map[uuid.UUID]models.RunOutcome
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledger:   map[uuid.UUID]models.PromotionRecord{},
		outcomes: map[uuid.UUID]models.RunOutcome{},
	}
}

func (m *MemoryStore) CurrentPromotion(ctx context.Context) (models.PromotionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.headID == uuid.Nil {
		return models.PromotionRecord{}, nil
	}
	return m.ledger[m.headID], nil
}

func (m *MemoryStore) CommitPromotion(ctx context.Context, in CommitInput) (models.PromotionRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headID != in.ExpectedPriorID {
		return models.PromotionRecord{}, fmt.Errorf("head is %s, expected %s: %w", m.headID, in.ExpectedPriorID, ErrLedgerConflict)
	}
	rec := models.PromotionRecord{
		ID:                in.ID,
		ModelID:           in.ModelID,
		ArtifactRef:       in.ArtifactRef,
		MetricValue:       in.MetricValue,
		PromotedAt:        time.Now().UTC(),
		PromotedFromRunID: in.PromotedFromRunID,
	}
	m.ledger[rec.ID] = rec
	m.headID = rec.ID
	return rec, nil
}

func (m *MemoryStore) PromotionHistory(ctx context.Context, limit int) ([]models.PromotionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]models.PromotionRecord, 0, len(m.ledger))
	for _, rec := range m.ledger {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].PromotedAt.After(records[j].PromotedAt)
	})
	n := normalizeLimit(limit)
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

func (m *MemoryStore) AppendNotificationAttempt(ctx context.Context, in NotificationAttemptInput) (models.NotificationAttempt, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	att := models.NotificationAttempt{
		ID:            in.ID,
		PromotionID:   in.PromotionID,
		AttemptNumber: in.AttemptNumber,
		SentAt:        time.Now().UTC(),
		Outcome:       in.Outcome,
		HTTPStatus:    in.HTTPStatus,
		Detail:        in.Detail,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, att)
	return att, nil
}

func (m *MemoryStore) ListNotificationAttempts(ctx context.Context, promotionID uuid.UUID) ([]models.NotificationAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var attempts []models.NotificationAttempt
	for _, att := range m.attempts {
		if att.PromotionID == promotionID {
			attempts = append(attempts, att)
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].AttemptNumber < attempts[j].AttemptNumber
	})
	return attempts, nil
}

func (m *MemoryStore) InsertRunOutcome(ctx context.Context, in RunOutcomeInput) (models.RunOutcome, error) {
	out := models.RunOutcome{
		RunID:       in.RunID,
		Decision:    in.Decision,
		Error:       in.Error,
		CompletedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.outcomes[in.RunID]; exists {
		return models.RunOutcome{}, fmt.Errorf("run outcome %s already recorded", in.RunID)
	}
	m.outcomes[in.RunID] = out
	return out, nil
}

func (m *MemoryStore) GetRunOutcome(ctx context.Context, runID uuid.UUID) (models.RunOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out, ok := m.outcomes[runID]
	if !ok {
		return models.RunOutcome{}, ErrNotFound
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
