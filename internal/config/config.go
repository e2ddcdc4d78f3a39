package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	ModelName  string
	DatasetRef string
	Epsilon    float64

	MonitoringURL  string
	TrainerURL     string
	TrainerTimeout time.Duration

	DeployTriggerEnabled bool
	DeployTriggerURL     string
	DeployTriggerToken   string
	NotifyMaxAttempts    int
	NotifyBackoff        time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	ReportsBucket string
	ReportsPrefix string

	ScheduleInterval time.Duration

	JWTSecret       string
	AllowDebugToken bool
	DebugToken      string

	InferenceAddr  string
	MaxBatchSize   int
	PoolSize       int
	ReloadInterval time.Duration
}

const (
	defaultAddr          = ":8071"
	defaultInferenceAddr = ":8072"
	defaultModelName     = "prod-sentiment-classifier"
	defaultDatasetRef    = "data/raw/feedback.csv"
	defaultKafkaTopic    = "ml-pipeline.events"
	defaultMaxBatchSize  = 100
)

func Load() (Config, error) {
	cfg := Config{
		Addr:        getEnv("ML_PIPELINE_ADDR", defaultAddr),
		DatabaseURL: firstNonEmpty(os.Getenv("ML_PIPELINE_DATABASE_URL"), os.Getenv("DATABASE_URL")),

		ModelName:  getEnv("ML_PIPELINE_MODEL_NAME", defaultModelName),
		DatasetRef: getEnv("ML_PIPELINE_DATASET_REF", defaultDatasetRef),
		Epsilon:    getFloat("ML_PIPELINE_MIN_IMPROVEMENT", 0),

		MonitoringURL:  os.Getenv("ML_PIPELINE_MONITORING_URL"),
		TrainerURL:     os.Getenv("ML_PIPELINE_TRAINER_URL"),
		TrainerTimeout: getDuration("ML_PIPELINE_TRAINER_TIMEOUT", 30*time.Minute),

		DeployTriggerEnabled: getBool("ML_PIPELINE_DEPLOY_TRIGGER_ENABLED", false),
		DeployTriggerURL:     os.Getenv("ML_PIPELINE_DEPLOY_TRIGGER_URL"),
		DeployTriggerToken:   os.Getenv("ML_PIPELINE_DEPLOY_TRIGGER_TOKEN"),
		NotifyMaxAttempts:    getInt("ML_PIPELINE_NOTIFY_MAX_ATTEMPTS", 3),
		NotifyBackoff:        getDuration("ML_PIPELINE_NOTIFY_BACKOFF", 2*time.Second),

		KafkaBrokers: splitList(os.Getenv("ML_PIPELINE_KAFKA_BROKERS")),
		KafkaTopic:   getEnv("ML_PIPELINE_KAFKA_TOPIC", defaultKafkaTopic),

		ReportsBucket: os.Getenv("ML_PIPELINE_REPORTS_BUCKET"),
		ReportsPrefix: os.Getenv("ML_PIPELINE_REPORTS_PREFIX"),

		ScheduleInterval: getDuration("ML_PIPELINE_SCHEDULE_INTERVAL", time.Hour),

		JWTSecret:       os.Getenv("ML_PIPELINE_JWT_SECRET"),
		AllowDebugToken: getBool("ML_PIPELINE_ALLOW_DEBUG_TOKEN", false),
		DebugToken:      os.Getenv("ML_PIPELINE_DEBUG_TOKEN"),

		InferenceAddr:  getEnv("ML_PIPELINE_INFERENCE_ADDR", defaultInferenceAddr),
		MaxBatchSize:   getInt("ML_PIPELINE_MAX_BATCH_SIZE", defaultMaxBatchSize),
		PoolSize:       getInt("ML_PIPELINE_POOL_SIZE", 4),
		ReloadInterval: getDuration("ML_PIPELINE_RELOAD_INTERVAL", 30*time.Second),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or ML_PIPELINE_DATABASE_URL required")
	}
	if cfg.Epsilon < 0 {
		return Config{}, fmt.Errorf("ML_PIPELINE_MIN_IMPROVEMENT must be >= 0")
	}
	if cfg.DeployTriggerEnabled && cfg.DeployTriggerURL == "" {
		// Tolerated: the notifier reports "misconfigured" per promotion
		// instead of refusing to start.
		fmt.Fprintln(os.Stderr, "warning: deploy trigger enabled without ML_PIPELINE_DEPLOY_TRIGGER_URL")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
