// Package bootstrap wires the storage, vector-index, embedding, arbiter
// and domain-package collaborators from a loaded Config. Every cmd/
// binary shares this construction sequence instead of repeating it.
package bootstrap

import (
	"context"
	"fmt"

	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/memory-engine/internal/arbiter"
	"github.com/rohankatakam/memory-engine/internal/config"
	"github.com/rohankatakam/memory-engine/internal/embedding"
	"github.com/rohankatakam/memory-engine/internal/events"
	"github.com/rohankatakam/memory-engine/internal/exposure"
	"github.com/rohankatakam/memory-engine/internal/propagation"
	"github.com/rohankatakam/memory-engine/internal/resolution"
	"github.com/rohankatakam/memory-engine/internal/shock"
	"github.com/rohankatakam/memory-engine/internal/storage"
	"github.com/rohankatakam/memory-engine/internal/vectorindex"
	"github.com/rohankatakam/memory-engine/internal/writepipeline"
	"github.com/rohankatakam/memory-engine/internal/zone"
)

// App bundles every collaborator a cmd/ binary might need.
type App struct {
	Config     *config.Config
	Store      storage.Store
	Vectors    *vectorindex.Set
	Embedder   embedding.Embedder
	Arbiter    arbiter.Arbiter
	Dispatcher *events.Dispatcher
	Queue      events.ExposureQueue
	Pipeline   *writepipeline.Pipeline
	Shocker    *shock.Propagator
	Checker    *exposure.Checker
	Zones      *zone.Builder
	Resolver   *resolution.Cascade
	Propagator *propagation.Propagator
	Log        *logrus.Logger
}

// New opens the store, the vector-index set, the embedding/arbiter
// clients and every domain package, wired exactly the way each
// package's constructor expects its collaborators.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logrus.StandardLogger()

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store: %w", err)
	}

	qc, err := qdrant.NewClient(&qdrant.Config{Host: qdrantHost(cfg), Port: qdrantPort(cfg)})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect qdrant: %w", err)
	}
	vectors, err := vectorindex.NewSet(ctx, qc, cfg.VectorDB.ContentCollection, cfg.VectorDB.InvalidatesCollection, cfg.VectorDB.ConfirmsCollection, uint64(cfg.VectorDB.VectorSize))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open vector index set: %w", err)
	}

	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open embedder: %w", err)
	}
	arb, err := openArbiter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open arbiter: %w", err)
	}

	dispatcher := events.NewDispatcher(store)
	queue := events.NewInMemoryExposureQueue(256)

	shocker := shock.New(store)
	checker := exposure.New(store, vectors, dispatcher, shocker, cfg.Exposure.TopKPerCondition)
	pipeline := writepipeline.New(store, vectors, embedder, arb, queue, dispatcher, nil)
	zones := zone.New(store, vectors.Content, embedder)
	resolver := resolution.New(store, shocker, dispatcher)
	propagator := propagation.New(store)

	return &App{
		Config:     cfg,
		Store:      store,
		Vectors:    vectors,
		Embedder:   embedder,
		Arbiter:    arb,
		Dispatcher: dispatcher,
		Queue:      queue,
		Pipeline:   pipeline,
		Shocker:    shocker,
		Checker:    checker,
		Zones:      zones,
		Resolver:   resolver,
		Propagator: propagator,
		Log:        log,
	}, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.PostgresDSN, logrus.StandardLogger())
	default:
		return storage.NewSQLiteStore(cfg.Storage.SQLitePath, logrus.StandardLogger())
	}
}

func openEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	key := cfg.API.OpenAIKey
	if cfg.Embedding.Provider == "gemini" {
		key = cfg.API.GeminiKey
	}
	return embedding.New(ctx, cfg.Embedding.Provider, key, cfg.Embedding.Model)
}

func openArbiter(ctx context.Context, cfg *config.Config) (arbiter.Arbiter, error) {
	key := cfg.API.OpenAIKey
	if cfg.Arbiter.Provider == "gemini" {
		key = cfg.API.GeminiKey
	}
	return arbiter.New(ctx, cfg.Arbiter.Provider, key, cfg.Arbiter.Model, cfg.Arbiter.MaxTokens)
}

func qdrantHost(cfg *config.Config) string {
	host, _ := splitHostPort(cfg.VectorDB.Addr)
	return host
}

func qdrantPort(cfg *config.Config) int {
	_, port := splitHostPort(cfg.VectorDB.Addr)
	return port
}

func splitHostPort(addr string) (string, int) {
	host, portStr := "localhost", "6334"
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host, portStr = addr[:i], addr[i+1:]
			break
		}
	}
	port := 6334
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}
