// Package notifier informs the external deployment system that a new
// model has been promoted. The call is strictly after-the-fact: the
// ledger commit has already happened and nothing the notifier does can
// unwind it.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
	"github.com/arec1b0/ml-retraining-pipeline/internal/store"
)

// ErrExhausted means every attempt up to the configured ceiling failed.
// The promotion stands; callers log and move on.
var ErrExhausted = errors.New("notification attempts exhausted")

type Notifier interface {
	Notify(ctx context.Context, promotion models.PromotionRecord) (models.NotificationAttempt, error)
}

type Config struct {
	// Enabled is the administrative switch. When false every call is a
	// no-op with outcome "disabled".
	Enabled bool

	// EndpointURL and AuthToken locate the deployment trigger. A missing
	// endpoint while Enabled yields outcome "misconfigured", never an
	// error.
	EndpointURL string
	AuthToken   string

	// MaxAttempts is the retry ceiling. Defaults to 3 if <= 0.
	MaxAttempts int

	// Timeout bounds each outbound call. Defaults to 30s.
	Timeout time.Duration

	// BaseBackoff and MaxBackoff shape the exponential wait between
	// attempts. Defaults: 2s base, 30s cap.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

// DeployNotifier posts the promotion to the deployment trigger endpoint
// with bounded retries, recording every attempt in the store's
// append-only trail. The promotion id rides along as the correlation
// token; the receiving side deduplicates by it, so an ambiguous retry
// after a network error is safe to send.
type DeployNotifier struct {
	cfg    Config
	st     store.Store
	client *http.Client
	logger *log.Logger
}

func New(cfg Config, st store.Store) *DeployNotifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[notifier] ", log.LstdFlags)
	}
	return &DeployNotifier{cfg: cfg, st: st, client: client, logger: logger}
}

func (n *DeployNotifier) Notify(ctx context.Context, promotion models.PromotionRecord) (models.NotificationAttempt, error) {
	// No-op paths report an outcome without touching the attempt trail:
	// no outbound call was made, so there is nothing to audit.
	if !n.cfg.Enabled {
		return skippedAttempt(promotion, models.NotifyDisabled, "deployment trigger disabled"), nil
	}
	if n.cfg.EndpointURL == "" {
		n.logger.Printf("deployment trigger enabled but endpoint unset, skipping promotion %s", promotion.ID)
		return skippedAttempt(promotion, models.NotifyMisconfigured, "endpoint url not configured"), nil
	}

	var last models.NotificationAttempt
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := n.wait(ctx, attempt); err != nil {
				return last, err
			}
		}
		outcome, status, detail := n.send(ctx, promotion)
		last = n.record(ctx, promotion, attempt, outcome, status, detail)
		if outcome == models.NotifySuccess {
			n.logger.Printf("promotion %s notified on attempt %d", promotion.ID, attempt)
			return last, nil
		}
		n.logger.Printf("promotion %s attempt %d/%d %s: %s", promotion.ID, attempt, n.cfg.MaxAttempts, outcome, detail)
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
	}
	return last, fmt.Errorf("promotion %s after %d attempts: %w", promotion.ID, n.cfg.MaxAttempts, ErrExhausted)
}

// wait sleeps for the exponential backoff before the given attempt,
// doubling from BaseBackoff and capping at MaxBackoff.
func (n *DeployNotifier) wait(ctx context.Context, attempt int) error {
	backoff := n.cfg.BaseBackoff << (attempt - 2)
	if backoff > n.cfg.MaxBackoff || backoff <= 0 {
		backoff = n.cfg.MaxBackoff
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

func (n *DeployNotifier) send(ctx context.Context, promotion models.PromotionRecord) (models.NotifyOutcome, int, string) {
	payload := map[string]interface{}{
		"modelIdentifier": promotion.ModelID,
		"metricValue":     promotion.MetricValue,
		"promotionId":     promotion.ID.String(),
		"runId":           promotion.PromotedFromRunID.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.NotifyFailure, 0, fmt.Sprintf("marshal payload: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return models.NotifyFailure, 0, fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Promotion-Id", promotion.ID.String())
	if n.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+n.cfg.AuthToken)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return models.NotifyTimeout, 0, fmt.Sprintf("deadline after %s", n.cfg.Timeout)
		}
		return models.NotifyFailure, 0, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return models.NotifySuccess, resp.StatusCode, ""
	}
	return models.NotifyFailure, resp.StatusCode, fmt.Sprintf("trigger returned %s", resp.Status)
}

func skippedAttempt(promotion models.PromotionRecord, outcome models.NotifyOutcome, detail string) models.NotificationAttempt {
	return models.NotificationAttempt{
		PromotionID: promotion.ID,
		SentAt:      time.Now().UTC(),
		Outcome:     outcome,
		Detail:      detail,
	}
}

// record appends the attempt to the audit trail. Trail writes must not
// fail the notification path, so store errors are only logged.
func (n *DeployNotifier) record(ctx context.Context, promotion models.PromotionRecord, attempt int, outcome models.NotifyOutcome, status int, detail string) models.NotificationAttempt {
	att, err := n.st.AppendNotificationAttempt(ctx, store.NotificationAttemptInput{
		PromotionID:   promotion.ID,
		AttemptNumber: attempt,
		Outcome:       outcome,
		HTTPStatus:    status,
		Detail:        detail,
	})
	if err != nil {
		n.logger.Printf("append notification attempt for promotion %s: %v", promotion.ID, err)
		return models.NotificationAttempt{
			PromotionID:   promotion.ID,
			AttemptNumber: attempt,
			Outcome:       outcome,
			HTTPStatus:    status,
			Detail:        detail,
		}
	}
	return att
}
