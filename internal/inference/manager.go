// Package inference serves predictions from the currently promoted
// model. Its only coupling to the pipeline is the promotion ledger: the
// manager polls the head and hot-swaps the model when the promoted
// identifier changes.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
	"github.com/arec1b0/ml-retraining-pipeline/internal/store"
)

// ErrModelNotLoaded is returned while no promoted model has been loaded.
var ErrModelNotLoaded = errors.New("model not loaded")

// ModelInfo describes the model a manager currently serves.
type ModelInfo struct {
	ModelID     string    `json:"modelId"`
	ArtifactRef string    `json:"artifactRef"`
	MetricValue float64   `json:"metricValue"`
	PromotedAt  time.Time `json:"promotedAt"`
	LoadedAt    time.Time `json:"loadedAt"`
}

type ManagerConfig struct {
	// PoolSize bounds concurrent predictions. Defaults to 4.
	PoolSize int

	// ReloadInterval is how often the ledger head is polled. Defaults
	// to 30s.
	ReloadInterval time.Duration

	Logger *log.Logger
}

type Manager struct {
	st     store.Store
	loader Loader
	pool   *Pool
	logger *log.Logger

	reloadInterval time.Duration

	mu    sync.RWMutex
	model Model
	info  ModelInfo
}

func NewManager(st store.Store, loader Loader, cfg ManagerConfig) *Manager {
	interval := cfg.ReloadInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[inference] ", log.LstdFlags)
	}
	return &Manager{
		st:             st,
		loader:         loader,
		pool:           NewPool(cfg.PoolSize),
		logger:         logger,
		reloadInterval: interval,
	}
}

// Loaded reports whether a model is available for predictions.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model != nil
}

// Info returns metadata for the model currently served.
func (m *Manager) Info() (ModelInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.model == nil {
		return ModelInfo{}, ErrModelNotLoaded
	}
	return m.info, nil
}

// Predict scores texts on the bounded worker pool. Concurrent requests
// proceed in parallel up to the pool size.
func (m *Manager) Predict(ctx context.Context, texts []string) ([]Prediction, error) {
	m.mu.RLock()
	model := m.model
	m.mu.RUnlock()
	if model == nil {
		return nil, ErrModelNotLoaded
	}

	var out []Prediction
	if err := m.pool.Do(ctx, func() {
		out = model.Predict(texts)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Reload checks the promotion ledger head and swaps the model in if the
// promoted identifier changed since the last load.
func (m *Manager) Reload(ctx context.Context) error {
	head, err := m.st.CurrentPromotion(ctx)
	if err != nil {
		return fmt.Errorf("read promotion head: %w", err)
	}
	if head.IsZero() {
		return nil
	}
	m.mu.RLock()
	currentID := m.info.ModelID
	m.mu.RUnlock()
	if head.ModelID == currentID {
		return nil
	}

	model, err := m.loader.Load(ctx, head.ArtifactRef)
	if err != nil {
		return fmt.Errorf("load artifact %s: %w", head.ArtifactRef, err)
	}
	m.mu.Lock()
	m.model = model
	m.info = infoFromRecord(head)
	m.mu.Unlock()
	m.logger.Printf("loaded model %s (metric %.4f)", head.ModelID, head.MetricValue)
	return nil
}

// WatchLoop polls the ledger until ctx is cancelled.
func (m *Manager) WatchLoop(ctx context.Context) {
	if err := m.Reload(ctx); err != nil {
		m.logger.Printf("initial model load: %v", err)
	}
	ticker := time.NewTicker(m.reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.Reload(ctx); err != nil {
			m.logger.Printf("model reload: %v", err)
		}
	}
}

func infoFromRecord(head models.PromotionRecord) ModelInfo {
	return ModelInfo{
		ModelID:     head.ModelID,
		ArtifactRef: head.ArtifactRef,
		MetricValue: head.MetricValue,
		PromotedAt:  head.PromotedAt,
		LoadedAt:    time.Now().UTC(),
	}
}
