package resolution

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

type fakeShocker struct {
	calledWith string
	core       bool
}

func (f *fakeShocker) PropagateFrom(ctx context.Context, seedID string, core bool) error {
	f.calledWith = seedID
	f.core = core
	return nil
}

func seedPrediction(t *testing.T, store storage.Store, id string, resolvesBy time.Time) {
	t.Helper()
	now := time.Now().UTC()
	cond := "price crosses 100"
	m := &models.Memory{
		ID: id, Content: "prediction", StartingConfidence: 0.6,
		ResolvesBy: &resolvesBy, OutcomeCondition: &cond,
		State: models.StateActive, ExposureStatus: "ready",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateMemory(context.Background(), m); err != nil {
		t.Fatalf("CreateMemory(%s): %v", id, err)
	}
}

func TestResolveCorrectRecoversSupportEdges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPrediction(t, store, "p1", time.Now().Add(24*time.Hour))

	child := &models.Memory{ID: "child", Content: "child", StartingConfidence: 0.5, ExposureStatus: "ready", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := store.CreateMemory(ctx, child); err != nil {
		t.Fatalf("CreateMemory(child): %v", err)
	}
	edge := &models.Edge{ID: "e1", SourceID: "p1", TargetID: "child", EdgeType: models.EdgeDerivedFrom, Strength: 0.5, CreatedAt: time.Now().UTC()}
	if err := store.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	shocker := &fakeShocker{}
	c := New(store, shocker, nil)
	if err := c.Resolve(ctx, "p1", models.OutcomeCorrect, "sess-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got, err := store.GetMemory(ctx, "p1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.State != models.StateResolved || got.Outcome == nil || *got.Outcome != models.OutcomeCorrect {
		t.Errorf("p1 after Resolve = %+v, want state resolved with outcome correct", got)
	}

	edges, err := store.EdgesFrom(ctx, []string{"p1"}, nil)
	if err != nil {
		t.Fatalf("EdgesFrom: %v", err)
	}
	if len(edges) != 1 || edges[0].Strength <= 0.5 {
		t.Errorf("support edge should have recovered above 0.5, got %+v", edges)
	}

	if shocker.calledWith != "" {
		t.Error("a correct resolution should never trigger a shock cascade")
	}
}

func TestResolveIncorrectTriggersCoreShock(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPrediction(t, store, "p1", time.Now().Add(24*time.Hour))

	shocker := &fakeShocker{}
	c := New(store, shocker, nil)
	if err := c.Resolve(ctx, "p1", models.OutcomeIncorrect, "sess-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if shocker.calledWith != "p1" || !shocker.core {
		t.Errorf("an incorrect resolution should shock the prediction as a core seed, got calledWith=%q core=%v", shocker.calledWith, shocker.core)
	}
}

func TestResolveVoidIsStateOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPrediction(t, store, "p1", time.Now().Add(24*time.Hour))

	shocker := &fakeShocker{}
	c := New(store, shocker, nil)
	if err := c.Resolve(ctx, "p1", models.OutcomeVoid, "sess-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if shocker.calledWith != "" {
		t.Error("a void resolution should not trigger a shock cascade")
	}
}

func TestResolveAlreadyResolvedIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPrediction(t, store, "p1", time.Now().Add(24*time.Hour))

	c := New(store, &fakeShocker{}, nil)
	if err := c.Resolve(ctx, "p1", models.OutcomeCorrect, "sess-1"); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if err := c.Resolve(ctx, "p1", models.OutcomeCorrect, "sess-1"); err == nil {
		t.Error("resolving an already-resolved memory again should be rejected")
	}
}

func TestResolveMissingMemory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := New(store, &fakeShocker{}, nil)
	if err := c.Resolve(ctx, "nope", models.OutcomeCorrect, "sess-1"); err == nil {
		t.Error("resolving a memory that does not exist should error")
	}
}
