package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/arec1b0/ml-retraining-pipeline/internal/config"
	"github.com/arec1b0/ml-retraining-pipeline/internal/inference"
	"github.com/arec1b0/ml-retraining-pipeline/internal/inference/httpserver"
	"github.com/arec1b0/ml-retraining-pipeline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	st := store.NewPGStore(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("schema init: %v", err)
	}
	manager := inference.NewManager(st, inference.LexiconLoader{}, inference.ManagerConfig{
		PoolSize:       cfg.PoolSize,
		ReloadInterval: cfg.ReloadInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.WatchLoop(ctx)

	server := httpserver.New(manager, cfg.MaxBatchSize)
	httpServer := &http.Server{
		Addr:    cfg.InferenceAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("inference service listening on %s", cfg.InferenceAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
