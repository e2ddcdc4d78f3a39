package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrLedgerConflict means a compare-and-swap commit found a head the
	// caller did not expect. Under single-flight execution this indicates
	// a lock-discipline bug somewhere upstream.
	ErrLedgerConflict = errors.New("promotion ledger conflict")
)

// headSlot is the fixed key of the "current model" slot. The ledger
// serializes all promotions against this one slot.
const headSlot = "current"

type Store interface {
	CurrentPromotion(ctx context.Context) (models.PromotionRecord, error)
	CommitPromotion(ctx context.Context, in CommitInput) (models.PromotionRecord, error)
	PromotionHistory(ctx context.Context, limit int) ([]models.PromotionRecord, error)
	AppendNotificationAttempt(ctx context.Context, in NotificationAttemptInput) (models.NotificationAttempt, error)
	ListNotificationAttempts(ctx context.Context, promotionID uuid.UUID) ([]models.NotificationAttempt, error)
	InsertRunOutcome(ctx context.Context, in RunOutcomeInput) (models.RunOutcome, error)
	GetRunOutcome(ctx context.Context, runID uuid.UUID) (models.RunOutcome, error)
	Ping(ctx context.Context) error
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// CommitInput describes one conditional ledger write. ExpectedPriorID is
// the head promotion id read before evaluation; uuid.Nil means the
// caller expects an empty ledger.
type CommitInput struct {
	ID                uuid.UUID
	ModelID           string
	ArtifactRef       string
	MetricValue       float64
	PromotedFromRunID uuid.UUID
	ExpectedPriorID   uuid.UUID
}

type NotificationAttemptInput struct {
	ID            uuid.UUID
	PromotionID   uuid.UUID
	AttemptNumber int
	Outcome       models.NotifyOutcome
	HTTPStatus    int
	Detail        string
}

type RunOutcomeInput struct {
	RunID    uuid.UUID
	Decision models.Decision
	Error    string
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPromotion(row rowScanner) (models.PromotionRecord, error) {
	var rec models.PromotionRecord
	if err := row.Scan(
		&rec.ID,
		&rec.ModelID,
		&rec.ArtifactRef,
		&rec.MetricValue,
		&rec.PromotedAt,
		&rec.PromotedFromRunID,
	); err != nil {
		return models.PromotionRecord{}, err
	}
	return rec, nil
}

func scanAttempt(row rowScanner) (models.NotificationAttempt, error) {
	var (
		att    models.NotificationAttempt
		status sql.NullInt64
		detail sql.NullString
	)
	if err := row.Scan(
		&att.ID,
		&att.PromotionID,
		&att.AttemptNumber,
		&att.SentAt,
		&att.Outcome,
		&status,
		&detail,
	); err != nil {
		return models.NotificationAttempt{}, err
	}
	if status.Valid {
		att.HTTPStatus = int(status.Int64)
	}
	if detail.Valid {
		att.Detail = detail.String
	}
	return att, nil
}

// CurrentPromotion returns the ledger head, or the zero record when no
// model has ever been promoted. It never blocks on in-flight commits.
func (s *PGStore) CurrentPromotion(ctx context.Context) (models.PromotionRecord, error) {
	const query = `
		SELECT l.id, l.model_id, l.artifact_ref, l.metric_value, l.promoted_at, l.promoted_from_run_id
		FROM promotion_head h
		JOIN promotion_ledger l ON l.id = h.promotion_id
		WHERE h.slot = $1
	`
	rec, err := scanPromotion(s.db.QueryRowContext(ctx, query, headSlot))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PromotionRecord{}, nil
		}
		return models.PromotionRecord{}, fmt.Errorf("read promotion head: %w", err)
	}
	return rec, nil
}

// CommitPromotion appends a ledger entry and moves the head, but only if
// the head still matches in.ExpectedPriorID. The row lock on the head
// slot makes the compare-and-swap atomic at the storage layer.
func (s *PGStore) CommitPromotion(ctx context.Context, in CommitInput) (models.PromotionRecord, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PromotionRecord{}, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	// The slot row must exist before the FOR UPDATE select, or an empty
	// ledger takes no lock and two first commits can both pass the
	// compare. NULL promotion_id is the empty sentinel.
	const seedHead = `
		INSERT INTO promotion_head (slot, promotion_id)
		VALUES ($1, NULL)
		ON CONFLICT (slot) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, seedHead, headSlot); err != nil {
		return models.PromotionRecord{}, fmt.Errorf("seed promotion head: %w", err)
	}

	const selectHead = `
		SELECT promotion_id FROM promotion_head WHERE slot = $1 FOR UPDATE
	`
	var head uuid.NullUUID
	if err := tx.QueryRowContext(ctx, selectHead, headSlot).Scan(&head); err != nil {
		return models.PromotionRecord{}, fmt.Errorf("lock promotion head: %w", err)
	}
	headID := head.UUID
	if headID != in.ExpectedPriorID {
		return models.PromotionRecord{}, fmt.Errorf("head is %s, expected %s: %w", headID, in.ExpectedPriorID, ErrLedgerConflict)
	}

	const insertEntry = `
		INSERT INTO promotion_ledger (id, model_id, artifact_ref, metric_value, promoted_at, promoted_from_run_id)
		VALUES ($1,$2,$3,$4,NOW(),$5)
		RETURNING id, model_id, artifact_ref, metric_value, promoted_at, promoted_from_run_id
	`
	rec, err := scanPromotion(tx.QueryRowContext(ctx, insertEntry, in.ID, in.ModelID, in.ArtifactRef, in.MetricValue, in.PromotedFromRunID))
	if err != nil {
		return models.PromotionRecord{}, fmt.Errorf("insert promotion: %w", err)
	}

	const updateHead = `
		UPDATE promotion_head SET promotion_id = $2 WHERE slot = $1
	`
	if _, err := tx.ExecContext(ctx, updateHead, headSlot, rec.ID); err != nil {
		return models.PromotionRecord{}, fmt.Errorf("move promotion head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.PromotionRecord{}, fmt.Errorf("commit promotion: %w", err)
	}
	return rec, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func (s *PGStore) PromotionHistory(ctx context.Context, limit int) ([]models.PromotionRecord, error) {
	const query = `
		SELECT id, model_id, artifact_ref, metric_value, promoted_at, promoted_from_run_id
		FROM promotion_ledger
		ORDER BY promoted_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list promotion history: %w", err)
	}
	defer rows.Close()

	var records []models.PromotionRecord
	for rows.Next() {
		rec, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promotions: %w", err)
	}
	return records, nil
}

func (s *PGStore) AppendNotificationAttempt(ctx context.Context, in NotificationAttemptInput) (models.NotificationAttempt, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	const query = `
		INSERT INTO notification_attempts (id, promotion_id, attempt_number, sent_at, outcome, http_status, detail)
		VALUES ($1,$2,$3,NOW(),$4,$5,$6)
		RETURNING id, promotion_id, attempt_number, sent_at, outcome, http_status, detail
	`
	att, err := scanAttempt(s.db.QueryRowContext(ctx, query, in.ID, in.PromotionID, in.AttemptNumber, in.Outcome, nullInt(in.HTTPStatus), nullString(in.Detail)))
	if err != nil {
		return models.NotificationAttempt{}, fmt.Errorf("insert notification attempt: %w", err)
	}
	return att, nil
}

func (s *PGStore) ListNotificationAttempts(ctx context.Context, promotionID uuid.UUID) ([]models.NotificationAttempt, error) {
	const query = `
		SELECT id, promotion_id, attempt_number, sent_at, outcome, http_status, detail
		FROM notification_attempts
		WHERE promotion_id = $1
		ORDER BY attempt_number
	`
	rows, err := s.db.QueryContext(ctx, query, promotionID)
	if err != nil {
		return nil, fmt.Errorf("list notification attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.NotificationAttempt
	for rows.Next() {
		att, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification attempt: %w", err)
		}
		attempts = append(attempts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification attempts: %w", err)
	}
	return attempts, nil
}

func (s *PGStore) InsertRunOutcome(ctx context.Context, in RunOutcomeInput) (models.RunOutcome, error) {
	const query = `
		INSERT INTO run_outcomes (run_id, decision, error, completed_at)
		VALUES ($1,$2,$3,NOW())
		RETURNING completed_at
	`
	var completedAt time.Time
	if err := s.db.QueryRowContext(ctx, query, in.RunID, in.Decision, nullString(in.Error)).Scan(&completedAt); err != nil {
		return models.RunOutcome{}, fmt.Errorf("insert run outcome: %w", err)
	}
	return models.RunOutcome{
		RunID:       in.RunID,
		Decision:    in.Decision,
		Error:       in.Error,
		CompletedAt: completedAt,
	}, nil
}

func (s *PGStore) GetRunOutcome(ctx context.Context, runID uuid.UUID) (models.RunOutcome, error) {
	const query = `
		SELECT run_id, decision, error, completed_at
		FROM run_outcomes
		WHERE run_id = $1
	`
	var (
		out     models.RunOutcome
		details sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&out.RunID, &out.Decision, &details, &out.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RunOutcome{}, ErrNotFound
		}
		return models.RunOutcome{}, fmt.Errorf("get run outcome: %w", err)
	}
	if details.Valid {
		out.Error = details.String
	}
	return out, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func nullInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
