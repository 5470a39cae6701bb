package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/sirupsen/logrus"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newMemory(id string) *models.Memory {
	now := time.Now().UTC()
	return &models.Memory{
		ID:                 id,
		Content:            "content for " + id,
		StartingConfidence: 0.5,
		State:              models.StateActive,
		ExposureStatus:     "pending",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestCreateAndGetMemory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := newMemory("m1")
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	got, err := store.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != m.Content {
		t.Errorf("Content = %q, want %q", got.Content, m.Content)
	}

	if _, err := store.GetMemory(ctx, "missing"); err != ErrNotFound {
		t.Errorf("GetMemory on a missing id = %v, want ErrNotFound", err)
	}
}

func TestCreateMemoryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := newMemory("m1")
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("first CreateMemory: %v", err)
	}
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("replaying CreateMemory with the same id should be a no-op, got: %v", err)
	}
}

func TestGetMemoriesBatched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateMemory(ctx, newMemory(id)); err != nil {
			t.Fatalf("CreateMemory(%s): %v", id, err)
		}
	}

	got, err := store.GetMemories(ctx, []string{"a", "c", "missing"})
	if err != nil {
		t.Fatalf("GetMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetMemories returned %d rows, want 2", len(got))
	}
}

func TestAppendViolationTransitionsState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	m := newMemory("m1")
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}

	centrality, err := store.AppendViolation(ctx, "m1", models.Violation{Condition: "x > 1"})
	if err != nil {
		t.Fatalf("AppendViolation: %v", err)
	}
	if centrality != 0 {
		t.Errorf("centrality = %d, want 0 (no edges yet)", centrality)
	}

	got, err := store.GetMemory(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.State != models.StateViolated {
		t.Errorf("State = %v, want %v", got.State, models.StateViolated)
	}
	if got.Contradictions != 1 || got.TimesTested != 1 {
		t.Errorf("Contradictions=%d TimesTested=%d, want 1, 1", got.Contradictions, got.TimesTested)
	}
	if len(got.Violations) != 1 || got.Violations[0].Condition != "x > 1" {
		t.Errorf("Violations = %+v, want one entry with condition %q", got.Violations, "x > 1")
	}
}

func TestScaleEdgeStrengthClamps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"a", "b"} {
		if err := store.CreateMemory(ctx, newMemory(id)); err != nil {
			t.Fatalf("CreateMemory(%s): %v", id, err)
		}
	}
	edge := &models.Edge{ID: "e1", SourceID: "a", TargetID: "b", EdgeType: models.EdgeDerivedFrom, Strength: 0.9, CreatedAt: time.Now().UTC()}
	if err := store.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	if err := store.ScaleEdgeStrength(ctx, "a", []models.EdgeType{models.EdgeDerivedFrom}, 2.0); err != nil {
		t.Fatalf("ScaleEdgeStrength: %v", err)
	}

	edges, err := store.EdgesFrom(ctx, []string{"a"}, nil)
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 1 || edges[0].Strength != 1.0 {
		t.Errorf("scaled strength = %v, want 1.0 (clamped)", edges)
	}
}

func TestClaimStaleSessionsOnlyClaimsIdleOnes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := time.Now().Add(-time.Hour).UTC()
	recent := time.Now().UTC()

	if err := store.InsertEvent(ctx, &models.MemoryEvent{SessionID: "idle", EventType: models.EventViolation, MemoryID: "m1", CreatedAt: old}); err != nil {
		t.Fatalf("InsertEvent(idle): %v", err)
	}
	if err := store.InsertEvent(ctx, &models.MemoryEvent{SessionID: "active", EventType: models.EventConfirmation, MemoryID: "m2", CreatedAt: recent}); err != nil {
		t.Fatalf("InsertEvent(active): %v", err)
	}

	cutoff := time.Now().Add(-30 * time.Minute).UTC()
	claimed, err := store.ClaimStaleSessions(ctx, cutoff, "wf-1")
	if err != nil {
		t.Fatalf("ClaimStaleSessions: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != "idle" {
		t.Errorf("claimed = %v, want [idle]", claimed)
	}

	evs, err := store.EventsForWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("EventsForWorkflow: %v", err)
	}
	if len(evs) != 1 || evs[0].SessionID != "idle" {
		t.Errorf("EventsForWorkflow = %+v, want one idle-session event", evs)
	}
}

func TestReleaseStuckClaims(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := time.Now().Add(-time.Hour).UTC()
	if err := store.InsertEvent(ctx, &models.MemoryEvent{SessionID: "s1", EventType: models.EventViolation, MemoryID: "m1", CreatedAt: old}); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if _, err := store.ClaimStaleSessions(ctx, time.Now().UTC(), "wf-stuck"); err != nil {
		t.Fatalf("ClaimStaleSessions: %v", err)
	}

	n, err := store.ReleaseStuckClaims(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ReleaseStuckClaims: %v", err)
	}
	if n != 1 {
		t.Errorf("released %d claims, want 1", n)
	}
}

func TestSystemStatUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SetSystemStat(ctx, "max_times_tested", 7); err != nil {
		t.Fatalf("SetSystemStat: %v", err)
	}
	if err := store.SetSystemStat(ctx, "max_times_tested", 12); err != nil {
		t.Fatalf("SetSystemStat (update): %v", err)
	}

	stat, err := store.GetSystemStat(ctx, "max_times_tested")
	if err != nil {
		t.Fatalf("GetSystemStat: %v", err)
	}
	if stat.Value != 12 {
		t.Errorf("Value = %v, want 12", stat.Value)
	}
}
