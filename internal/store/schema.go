package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS promotion_ledger (
  id uuid PRIMARY KEY,
  model_id text NOT NULL,
  artifact_ref text NOT NULL,
  metric_value double precision NOT NULL,
  promoted_at timestamptz NOT NULL DEFAULT now(),
  promoted_from_run_id uuid NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_promotion_ledger_promoted_at ON promotion_ledger (promoted_at DESC);

CREATE TABLE IF NOT EXISTS promotion_head (
  slot text PRIMARY KEY,
  promotion_id uuid REFERENCES promotion_ledger (id)
);

CREATE TABLE IF NOT EXISTS notification_attempts (
  id uuid PRIMARY KEY,
  promotion_id uuid NOT NULL REFERENCES promotion_ledger (id),
  attempt_number integer NOT NULL,
  sent_at timestamptz NOT NULL DEFAULT now(),
  outcome text NOT NULL,
  http_status integer,
  detail text
);
CREATE INDEX IF NOT EXISTS idx_notification_attempts_promotion ON notification_attempts (promotion_id, attempt_number);

CREATE TABLE IF NOT EXISTS run_outcomes (
  run_id uuid PRIMARY KEY,
  decision text NOT NULL,
  error text,
  completed_at timestamptz NOT NULL DEFAULT now()
);

INSERT INTO promotion_head (slot, promotion_id)
VALUES ('current', NULL)
ON CONFLICT (slot) DO NOTHING;
`

// EnsureSchema creates the pipeline tables if they do not exist and
// seeds the head slot row the commit path locks. NULL promotion_id
// means no model has been promoted yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
