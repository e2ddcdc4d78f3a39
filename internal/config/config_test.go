package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8071" {
		t.Errorf("addr %q", cfg.Addr)
	}
	if cfg.ModelName != "prod-sentiment-classifier" {
		t.Errorf("model name %q", cfg.ModelName)
	}
	if cfg.DatasetRef != "data/raw/feedback.csv" {
		t.Errorf("dataset ref %q", cfg.DatasetRef)
	}
	if cfg.Epsilon != 0 {
		t.Errorf("epsilon %v", cfg.Epsilon)
	}
	if cfg.TrainerTimeout != 30*time.Minute {
		t.Errorf("trainer timeout %v", cfg.TrainerTimeout)
	}
	if cfg.NotifyMaxAttempts != 3 {
		t.Errorf("notify attempts %d", cfg.NotifyMaxAttempts)
	}
	if cfg.ScheduleInterval != time.Hour {
		t.Errorf("schedule interval %v", cfg.ScheduleInterval)
	}
	if cfg.DeployTriggerEnabled {
		t.Errorf("deploy trigger should default off")
	}
	if cfg.KafkaTopic != "ml-pipeline.events" {
		t.Errorf("kafka topic %q", cfg.KafkaTopic)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ML_PIPELINE_DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without database url")
	}
}

func TestLoadRejectsNegativeEpsilon(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pipeline_test")
	t.Setenv("ML_PIPELINE_MIN_IMPROVEMENT", "-0.01")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative epsilon")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ML_PIPELINE_DATABASE_URL", "postgres://db/pipeline")
	t.Setenv("ML_PIPELINE_MIN_IMPROVEMENT", "0.02")
	t.Setenv("ML_PIPELINE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("ML_PIPELINE_DEPLOY_TRIGGER_ENABLED", "true")
	t.Setenv("ML_PIPELINE_DEPLOY_TRIGGER_URL", "https://ci.example.com/dispatch")
	t.Setenv("ML_PIPELINE_SCHEDULE_INTERVAL", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://db/pipeline" {
		t.Errorf("database url %q", cfg.DatabaseURL)
	}
	if cfg.Epsilon != 0.02 {
		t.Errorf("epsilon %v", cfg.Epsilon)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("brokers %v", cfg.KafkaBrokers)
	}
	if !cfg.DeployTriggerEnabled || cfg.DeployTriggerURL != "https://ci.example.com/dispatch" {
		t.Errorf("deploy trigger %v %q", cfg.DeployTriggerEnabled, cfg.DeployTriggerURL)
	}
	if cfg.ScheduleInterval != 15*time.Minute {
		t.Errorf("schedule interval %v", cfg.ScheduleInterval)
	}
}
