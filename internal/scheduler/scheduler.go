// Package scheduler submits pipeline runs on a fixed interval, the way
// the retraining flow is kicked off when no external scheduler owns it.
package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
	"github.com/arec1b0/ml-retraining-pipeline/internal/orchestrator"
)

type Config struct {
	Interval   time.Duration
	DatasetRef string
	Logger     *log.Logger
}

// RunLoop triggers a pipeline run every interval until ctx is cancelled.
// A rejection from the single-flight lock is logged and waited out, not
// retried early.
func RunLoop(ctx context.Context, orch *orchestrator.Orchestrator, cfg Config) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		outcome, err := orch.Run(ctx, models.RunRequest{
			DatasetRef:  cfg.DatasetRef,
			RequestedBy: "scheduler",
		})
		if errors.Is(err, orchestrator.ErrConcurrentRun) {
			logger.Printf("tick skipped, run %s already active elsewhere", outcome.RunID)
			continue
		}
		if err != nil {
			logger.Printf("run %s: %v", outcome.RunID, err)
			continue
		}
		logger.Printf("run %s finished: %s", outcome.RunID, outcome.Decision)
	}
}
