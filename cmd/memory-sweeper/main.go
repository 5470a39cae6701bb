// Command memory-sweeper runs the background passes that the request
// path never triggers on its own: idle-session event dispatch (C8), the
// nightly full-graph propagation pass (C6), and re-enqueuing any
// memory whose exposure check never completed.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rohankatakam/memory-engine/internal/bootstrap"
	"github.com/rohankatakam/memory-engine/internal/config"
	"github.com/rohankatakam/memory-engine/internal/events"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("MEMORY_ENGINE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Store.Close()

	sweepInterval := cfg.Events.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	propagationInterval := cfg.Propagator.Interval
	if propagationInterval <= 0 {
		propagationInterval = 24 * time.Hour
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	eventTicker := time.NewTicker(sweepInterval)
	defer eventTicker.Stop()
	propagationTicker := time.NewTicker(propagationInterval)
	defer propagationTicker.Stop()
	pendingTicker := time.NewTicker(sweepInterval)
	defer pendingTicker.Stop()

	log.Println("memory-sweeper started")
	for {
		select {
		case <-sigChan:
			log.Println("shutting down gracefully...")
			return
		case <-eventTicker.C:
			sweepEvents(ctx, app, cfg.Events.SessionIdleTimeout, cfg.Events.ClaimGracePeriod)
		case <-propagationTicker.C:
			if err := app.Propagator.Run(ctx); err != nil {
				log.Printf("propagation pass failed: %v", err)
			} else {
				log.Println("propagation pass completed")
			}
		case <-pendingTicker.C:
			reenqueuePending(ctx, app)
		}
	}
}

func sweepEvents(ctx context.Context, app *bootstrap.App, idleTimeout, graceCutoff time.Duration) {
	idleSince := time.Now().UTC().Add(-idleTimeout)
	batches, err := app.Dispatcher.Sweep(ctx, idleSince)
	if err != nil {
		log.Printf("session sweep failed: %v", err)
		return
	}
	for _, batch := range batches {
		log.Printf("dispatched %d event(s) for session %s (workflow %s)", len(batch.Events), batch.SessionID, batch.WorkflowID)
		if err := app.Dispatcher.MarkDispatched(ctx, batch.WorkflowID); err != nil {
			log.Printf("mark dispatched failed for workflow %s: %v", batch.WorkflowID, err)
		}
	}

	released, err := app.Dispatcher.ReleaseStuckClaims(ctx, time.Now().UTC().Add(-graceCutoff))
	if err != nil {
		log.Printf("release stuck claims failed: %v", err)
	} else if released > 0 {
		log.Printf("released %d stuck session claim(s)", released)
	}
}

// reenqueuePending picks up memories whose exposure check never
// completed (process crash between embed and dispatch) and re-runs the
// check synchronously rather than re-enqueuing into the in-memory
// queue, which does not survive a restart.
func reenqueuePending(ctx context.Context, app *bootstrap.App) {
	pending, err := app.Store.ListPendingMemories(ctx, time.Now().UTC().Add(-5*time.Minute))
	if err != nil {
		log.Printf("list pending memories failed: %v", err)
		return
	}
	for _, m := range pending {
		vec, err := app.Embedder.Embed(ctx, m.Content)
		if err != nil {
			log.Printf("re-embed pending memory %s failed: %v", m.ID, err)
			continue
		}
		job := events.ExposureJob{MemoryID: m.ID, Content: m.Content, Embedding: vec, TimeBound: m.IsTimeBound()}
		if _, err := app.Checker.Check(ctx, job); err != nil {
			log.Printf("re-check pending memory %s failed: %v", m.ID, err)
			continue
		}
		if err := app.Store.PromoteDraft(ctx, m.ID); err != nil {
			log.Printf("promote pending memory %s failed: %v", m.ID, err)
		}
	}
}
