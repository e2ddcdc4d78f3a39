package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/arec1b0/ml-retraining-pipeline/internal/config"
	"github.com/arec1b0/ml-retraining-pipeline/internal/events"
	"github.com/arec1b0/ml-retraining-pipeline/internal/httpserver"
	"github.com/arec1b0/ml-retraining-pipeline/internal/notifier"
	"github.com/arec1b0/ml-retraining-pipeline/internal/orchestrator"
	"github.com/arec1b0/ml-retraining-pipeline/internal/reports"
	"github.com/arec1b0/ml-retraining-pipeline/internal/scheduler"
	"github.com/arec1b0/ml-retraining-pipeline/internal/signals"
	"github.com/arec1b0/ml-retraining-pipeline/internal/store"
	"github.com/arec1b0/ml-retraining-pipeline/internal/trainer"
)

func main() {
	runScheduler := flag.Bool("run-scheduler", false, "start the periodic retraining scheduler")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	st := store.NewPGStore(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("schema init: %v", err)
	}

	var source signals.Source = signals.NewStaticSource()
	if cfg.MonitoringURL != "" {
		httpSource, err := signals.NewHTTPSource(signals.HTTPSourceConfig{
			BaseURL: cfg.MonitoringURL,
			Timeout: 10 * time.Second,
			Retries: 2,
		})
		if err != nil {
			log.Fatalf("monitoring client init: %v", err)
		}
		source = httpSource
	}

	var tr trainer.Trainer = trainer.NewLocalTrainer()
	if cfg.TrainerURL != "" {
		httpTrainer, err := trainer.NewHTTPTrainer(trainer.HTTPTrainerConfig{
			BaseURL: cfg.TrainerURL,
			Timeout: cfg.TrainerTimeout,
		})
		if err != nil {
			log.Fatalf("trainer client init: %v", err)
		}
		tr = httpTrainer
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka publisher init: %v", err)
		}
		defer kp.Close()
		publisher = kp
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var archiver reports.Archiver = reports.NopArchiver{}
	if cfg.ReportsBucket != "" {
		s3Archiver, err := reports.NewS3Archiver(ctx, cfg.ReportsBucket, cfg.ReportsPrefix)
		if err != nil {
			log.Fatalf("reports archiver init: %v", err)
		}
		archiver = s3Archiver
	}

	deploy := notifier.New(notifier.Config{
		Enabled:     cfg.DeployTriggerEnabled,
		EndpointURL: cfg.DeployTriggerURL,
		AuthToken:   cfg.DeployTriggerToken,
		MaxAttempts: cfg.NotifyMaxAttempts,
		BaseBackoff: cfg.NotifyBackoff,
	}, st)

	orch := orchestrator.New(st, source, tr, deploy, publisher, archiver, orchestrator.Config{
		ModelName: cfg.ModelName,
		Epsilon:   cfg.Epsilon,
	})
	if err := orch.Reconcile(ctx); err != nil {
		log.Printf("startup reconcile: %v", err)
	}

	if shouldRunScheduler(*runScheduler) {
		log.Printf("starting retraining scheduler (every %s)", cfg.ScheduleInterval)
		go scheduler.RunLoop(ctx, orch, scheduler.Config{
			Interval:   cfg.ScheduleInterval,
			DatasetRef: cfg.DatasetRef,
		})
	}

	server := httpserver.New(cfg, orch, st)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("retraining pipeline service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func shouldRunScheduler(flagValue bool) bool {
	if flagValue {
		return true
	}
	if v := os.Getenv("ML_PIPELINE_SCHEDULER"); v != "" {
		enabled, err := strconv.ParseBool(v)
		return err == nil && enabled
	}
	return false
}
