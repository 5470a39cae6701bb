package zone

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

func seedMemory(t *testing.T, store storage.Store, id string, confidence float64) {
	t.Helper()
	now := time.Now().UTC()
	m := &models.Memory{ID: id, Content: "memory " + id, StartingConfidence: confidence, State: models.StateActive, ExposureStatus: "ready", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateMemory(context.Background(), m); err != nil {
		t.Fatalf("CreateMemory(%s): %v", id, err)
	}
}

func seedEdge(t *testing.T, store storage.Store, id, source, target string, edgeType models.EdgeType) {
	t.Helper()
	e := &models.Edge{ID: id, SourceID: source, TargetID: target, EdgeType: edgeType, Strength: 1.0, CreatedAt: time.Now().UTC()}
	if err := store.CreateEdge(context.Background(), e); err != nil {
		t.Fatalf("CreateEdge(%s): %v", id, err)
	}
}

// TestBuildSafeAllPositive confirms a zone whose only internal edges are
// support edges 2-colors cleanly.
func TestBuildSafeAllPositive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, id := range []string{"seed", "a", "b"} {
		seedMemory(t, store, id, 0.8)
	}
	seedEdge(t, store, "e1", "seed", "a", models.EdgeDerivedFrom)
	seedEdge(t, store, "e2", "a", "b", models.EdgeConfirmedBy)

	builder := New(store, nil, nil)
	report, err := builder.Build(ctx, "seed", "", 2, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !report.Safe {
		t.Errorf("an all-support zone should be safe, got conflict %+v", report.ConflictEdge)
	}
	if report.CutMinus != 0 {
		t.Errorf("CutMinus = %d, want 0 (no contradiction edges)", report.CutMinus)
	}
}

// TestBuildUnsafeOddContradictionCycle constructs a triangle with one
// negative edge (an odd cycle under structural balance), which cannot be
// 2-colored and must be reported unsafe.
func TestBuildUnsafeOddContradictionCycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		seedMemory(t, store, id, 0.8)
	}
	seedEdge(t, store, "e1", "a", "b", models.EdgeDerivedFrom)
	seedEdge(t, store, "e2", "b", "c", models.EdgeDerivedFrom)
	seedEdge(t, store, "e3", "a", "c", models.EdgeViolatedBy)

	builder := New(store, nil, nil)
	report, err := builder.Build(ctx, "a", "", 2, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Safe {
		t.Error("a triangle with an odd number of negative edges should not be 2-colorable")
	}
	if report.ConflictEdge == nil {
		t.Error("an unsafe zone should name the conflicting edge")
	}
}

// TestBuildExcludesOverwhelminglyViolated confirms a memory with a
// violation and no offsetting confirmations is dropped from the zone.
func TestBuildExcludesOverwhelminglyViolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMemory(t, store, "seed", 0.8)

	now := time.Now().UTC()
	violated := &models.Memory{
		ID: "violated", Content: "shaky claim", StartingConfidence: 0.8,
		State: models.StateViolated, ExposureStatus: "ready",
		Violations: models.ViolationList{{Condition: "x", DamageLevel: models.DamagePeripheral}},
		CreatedAt:  now, UpdatedAt: now,
	}
	if err := store.CreateMemory(ctx, violated); err != nil {
		t.Fatalf("CreateMemory(violated): %v", err)
	}
	seedEdge(t, store, "e1", "seed", "violated", models.EdgeDerivedFrom)

	builder := New(store, nil, nil)
	report, err := builder.Build(ctx, "seed", "", 2, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, m := range report.Members {
		if m.ID == "violated" {
			t.Error("an overwhelmingly-violated memory should be excluded from the zone")
		}
	}
}

func TestBuildMissingSeed(t *testing.T) {
	builder := New(newTestStore(t), nil, nil)
	if _, err := builder.Build(context.Background(), "missing", "", 2, 0); err == nil {
		t.Error("Build on a missing seed should error")
	}
}
