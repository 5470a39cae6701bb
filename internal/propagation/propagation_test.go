package propagation

import (
	"context"
	"math"
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

func seedMemory(t *testing.T, store storage.Store, m *models.Memory) {
	t.Helper()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.State == "" {
		m.State = models.StateActive
	}
	if err := store.CreateMemory(context.Background(), m); err != nil {
		t.Fatalf("CreateMemory(%s): %v", m.ID, err)
	}
}

// TestRunPullsSupportedMemoryTowardNeighbor exercises the blend term:
// a well-evidenced node (m1, ratio 1.0) pulls an untested neighbor (m2,
// derived from m1) above its own starting confidence.
func TestRunPullsSupportedMemoryTowardNeighbor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seedMemory(t, store, &models.Memory{
		ID: "m1", Content: "well evidenced", StartingConfidence: 0.3,
		Confirmations: 10, TimesTested: 10, ExposureStatus: "ready",
	})
	seedMemory(t, store, &models.Memory{
		ID: "m2", Content: "derived, untested", StartingConfidence: 0.3, ExposureStatus: "ready",
	})
	edge := &models.Edge{ID: "e1", SourceID: "m1", TargetID: "m2", EdgeType: models.EdgeDerivedFrom, Strength: 1.0, CreatedAt: time.Now().UTC()}
	if err := store.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}
	if err := store.SetSystemStat(ctx, "max_times_tested", 10); err != nil {
		t.Fatalf("SetSystemStat: %v", err)
	}

	p := New(store)
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	m2, err := store.GetMemory(ctx, "m2")
	if err != nil {
		t.Fatalf("GetMemory(m2): %v", err)
	}
	if m2.PropagatedConfidence == nil {
		t.Fatal("m2 should have a propagated confidence after Run")
	}
	const want = 0.72
	if math.Abs(*m2.PropagatedConfidence-want) > 1e-6 {
		t.Errorf("m2 propagated confidence = %v, want %v", *m2.PropagatedConfidence, want)
	}
}

// TestRunSkipsObservations confirms observations keep their own
// confidence as a fixed boundary value and are never written back.
func TestRunSkipsObservations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	source := "slack"
	seedMemory(t, store, &models.Memory{ID: "obs", Content: "an observation", Source: &source, StartingConfidence: 0.8, ExposureStatus: "ready"})

	p := New(store)
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := store.GetMemory(ctx, "obs")
	if err != nil {
		t.Fatalf("GetMemory(obs): %v", err)
	}
	if got.PropagatedConfidence != nil {
		t.Errorf("observations should never be written back, got %v", *got.PropagatedConfidence)
	}
}

// TestRunNoMemoriesIsNoop confirms an empty graph is a clean no-op.
func TestRunNoMemoriesIsNoop(t *testing.T) {
	store := newTestStore(t)
	p := New(store)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run on an empty graph should not error: %v", err)
	}
}

func TestEvidenceWeightMonotonic(t *testing.T) {
	low := evidenceWeight(1, 10)
	high := evidenceWeight(9, 10)
	if !(low < high) {
		t.Errorf("evidenceWeight should grow with times_tested: low=%v high=%v", low, high)
	}
	if evidenceWeight(0, 0) != 0 {
		t.Errorf("evidenceWeight(0, 0) should fall back cleanly to 0, got %v", evidenceWeight(0, 0))
	}
}
