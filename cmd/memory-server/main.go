package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rohankatakam/memory-engine/internal/bootstrap"
	"github.com/rohankatakam/memory-engine/internal/config"
	"github.com/rohankatakam/memory-engine/internal/events"
	"github.com/rohankatakam/memory-engine/internal/httpapi"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("MEMORY_ENGINE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Store.Close()

	go drainExposureJobs(ctx, app)

	var origins []string
	if o := os.Getenv("CORS_ALLOWED_ORIGINS"); o != "" {
		origins = strings.Split(o, ",")
	}

	router := httpapi.New(app.Store, app.Pipeline, app.Checker, app.Zones, app.Resolver, app.Vectors.Content, app.Embedder, origins)

	addr := getEnvOrDefault("MEMORY_ENGINE_ADDR", ":8090")
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("memory-server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// drainExposureJobs runs C4 inline for the in-process queue: every job
// the write pipeline enqueues is checked as soon as a worker is free.
// A dedicated cmd/memory-sweeper handles the periodic full-graph and
// session-dispatch passes (C6, C8) on a schedule instead.
func drainExposureJobs(ctx context.Context, app *bootstrap.App) {
	queue, ok := app.Queue.(*events.InMemoryExposureQueue)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-queue.Jobs():
			if _, err := app.Checker.Check(ctx, job); err != nil {
				log.Printf("exposure check failed for %s: %v", job.MemoryID, err)
			}
		}
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
