package shock

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
	m := &models.Memory{
		ID:                 id,
		Content:            "memory " + id,
		StartingConfidence: confidence,
		State:              models.StateActive,
		ExposureStatus:     "ready",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := store.CreateMemory(context.Background(), m); err != nil {
		t.Fatalf("CreateMemory(%s): %v", id, err)
	}
}

func seedEdge(t *testing.T, store storage.Store, source, target string, edgeType models.EdgeType, strength float64) {
	t.Helper()
	e := &models.Edge{
		ID:        source + "-" + target,
		SourceID:  source,
		TargetID:  target,
		EdgeType:  edgeType,
		Strength:  strength,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateEdge(context.Background(), e); err != nil {
		t.Fatalf("CreateEdge(%s->%s): %v", source, target, err)
	}
}

// TestPropagateFromDampsWithDepth confirms a core seed shocks its direct
// support neighbor harder than a node two hops away.
func TestPropagateFromDampsWithDepth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seedMemory(t, store, "seed", 0.9)
	seedMemory(t, store, "child", 0.9)
	seedMemory(t, store, "grandchild", 0.9)
	seedEdge(t, store, "seed", "child", models.EdgeDerivedFrom, 1.0)
	seedEdge(t, store, "child", "grandchild", models.EdgeDerivedFrom, 1.0)

	p := New(store)
	if err := p.PropagateFrom(ctx, "seed", true); err != nil {
		t.Fatalf("PropagateFrom: %v", err)
	}

	child, err := store.GetMemory(ctx, "child")
	if err != nil {
		t.Fatalf("GetMemory(child): %v", err)
	}
	grandchild, err := store.GetMemory(ctx, "grandchild")
	if err != nil {
		t.Fatalf("GetMemory(grandchild): %v", err)
	}

	if child.PropagatedConfidence == nil {
		t.Fatal("child should have received a shock")
	}
	childDrop := 0.9 - *child.PropagatedConfidence
	if childDrop <= 0 {
		t.Errorf("child confidence should have dropped, got %v", *child.PropagatedConfidence)
	}

	if grandchild.PropagatedConfidence != nil {
		grandchildDrop := 0.9 - *grandchild.PropagatedConfidence
		if grandchildDrop > childDrop {
			t.Errorf("grandchild drop %v should not exceed child drop %v (impulse decays with distance)", grandchildDrop, childDrop)
		}
	}
}

// TestPropagateFromSkipsObservations confirms observations are never
// shocked, since they have no confidence to revise.
func TestPropagateFromSkipsObservations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seedMemory(t, store, "seed", 0.9)

	now := time.Now().UTC()
	source := "slack"
	obs := &models.Memory{
		ID: "obs", Content: "an observation", Source: &source,
		StartingConfidence: 0.9, State: models.StateActive, ExposureStatus: "ready",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateMemory(ctx, obs); err != nil {
		t.Fatalf("CreateMemory(obs): %v", err)
	}
	seedEdge(t, store, "seed", "obs", models.EdgeDerivedFrom, 1.0)

	p := New(store)
	if err := p.PropagateFrom(ctx, "seed", true); err != nil {
		t.Fatalf("PropagateFrom: %v", err)
	}

	got, err := store.GetMemory(ctx, "obs")
	if err != nil {
		t.Fatalf("GetMemory(obs): %v", err)
	}
	if got.PropagatedConfidence != nil {
		t.Errorf("observation should never be shocked, got propagated confidence %v", *got.PropagatedConfidence)
	}
}

// TestPropagateFromNoEdgesIsNoop confirms a seed with no support edges
// produces no writes and no error.
func TestPropagateFromNoEdgesIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMemory(t, store, "lonely", 0.9)

	p := New(store)
	if err := p.PropagateFrom(ctx, "lonely", false); err != nil {
		t.Fatalf("PropagateFrom on an isolated seed should not error: %v", err)
	}
}
