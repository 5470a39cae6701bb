package events

import (
	"context"
	"testing"
	"time"

	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/storage"
	"github.com/sirupsen/logrus"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store, err := storage.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInMemoryExposureQueueFIFO(t *testing.T) {
	q := NewInMemoryExposureQueue(2)
	ctx := context.Background()

	if err := q.Enqueue(ctx, ExposureJob{MemoryID: "a"}); err != nil {
		t.Fatalf("Enqueue(a): %v", err)
	}
	if err := q.Enqueue(ctx, ExposureJob{MemoryID: "b"}); err != nil {
		t.Fatalf("Enqueue(b): %v", err)
	}

	first := <-q.Jobs()
	second := <-q.Jobs()
	if first.MemoryID != "a" || second.MemoryID != "b" {
		t.Errorf("got order %s, %s, want a, b", first.MemoryID, second.MemoryID)
	}
}

func TestInMemoryExposureQueueBlocksUntilCanceled(t *testing.T) {
	q := NewInMemoryExposureQueue(1)
	ctx := context.Background()

	if err := q.Enqueue(ctx, ExposureJob{MemoryID: "full"}); err != nil {
		t.Fatalf("Enqueue(full): %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(cancelCtx, ExposureJob{MemoryID: "blocked"}); err == nil {
		t.Error("Enqueue on a full buffer with an expiring context should return an error")
	}
}

// TestSweepClaimsOnlyIdleSessions exercises the claim-then-process
// dispatcher: a session idle past the cutoff is claimed and its events
// returned; a session still active is left untouched.
func TestSweepClaimsOnlyIdleSessions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := NewDispatcher(store)

	old := time.Now().Add(-time.Hour).UTC()
	if err := d.Record(ctx, &models.MemoryEvent{SessionID: "idle", EventType: models.EventViolation, MemoryID: "m1", CreatedAt: old}); err != nil {
		t.Fatalf("Record(idle): %v", err)
	}
	if err := d.Record(ctx, &models.MemoryEvent{SessionID: "busy", EventType: models.EventConfirmation, MemoryID: "m2"}); err != nil {
		t.Fatalf("Record(busy): %v", err)
	}

	batches, err := d.Sweep(ctx, time.Now().Add(-30*time.Minute).UTC())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(batches) != 1 || batches[0].SessionID != "idle" {
		t.Fatalf("batches = %+v, want one batch for session idle", batches)
	}
	if len(batches[0].Events) != 1 {
		t.Errorf("idle batch has %d events, want 1", len(batches[0].Events))
	}

	if err := d.MarkDispatched(ctx, batches[0].WorkflowID); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}

	// A second sweep with the same cutoff should find nothing left to claim.
	again, err := d.Sweep(ctx, time.Now().Add(-30*time.Minute).UTC())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second sweep claimed %+v, want none (idle session already dispatched)", again)
	}
}

func TestReleaseStuckClaimsRecoversCrashedSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	d := NewDispatcher(store)

	old := time.Now().Add(-time.Hour).UTC()
	if err := d.Record(ctx, &models.MemoryEvent{SessionID: "s1", EventType: models.EventViolation, MemoryID: "m1", CreatedAt: old}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := d.Sweep(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	n, err := d.ReleaseStuckClaims(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ReleaseStuckClaims: %v", err)
	}
	if n != 1 {
		t.Errorf("released %d claims, want 1", n)
	}

	// Now a fresh sweep should be able to re-claim the released session.
	batches, err := d.Sweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Sweep after release: %v", err)
	}
	if len(batches) != 1 || batches[0].SessionID != "s1" {
		t.Errorf("batches after release = %+v, want one batch for s1", batches)
	}
}
