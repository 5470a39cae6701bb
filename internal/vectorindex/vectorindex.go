// Package vectorindex implements C2: three independent nearest-neighbor
// indexes (content, invalidates_if conditions, confirms_if conditions)
// over unit-normalized dense vectors with cosine similarity, backed by
// Qdrant. The teacher has no vector-index dependency of its own; this
// package adopts qdrant/go-client, the pack's one real nearest-neighbor
// store client (surfaced in ashita-ai-akashi's manifest).
package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
)

// Point is one vector plus its payload, the unit of upsert/query.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is one query result: a point ID, its similarity score and payload.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Index wraps a Qdrant collection with the upsert/query/deleteByPrefix
// operations spec.md §4.2 names.
type Index struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

// NewIndex opens (and, if missing, creates) a cosine-distance collection.
func NewIndex(ctx context.Context, client *qdrant.Client, collection string, vectorSize uint64) (*Index, error) {
	idx := &Index{client: client, collection: collection, vectorSize: vectorSize}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: check collection %s: %w", collection, err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("vectorindex: create collection %s: %w", collection, err)
		}
	}

	return idx, nil
}

// ConditionPointID derives the deterministic point ID for the i'th
// invalidates/confirms condition of memoryID, matching spec.md §4.2's
// "<memory_id>:inv:<i>" / ":conf:<i>" key scheme. Qdrant point IDs must be
// a UUID or unsigned int, so the stable string key is hashed into a v5
// UUID and the original string is kept in the payload for prefix deletes.
func ConditionPointID(memoryID, kind string, i int) (string, string) {
	key := fmt.Sprintf("%s:%s:%d", memoryID, kind, i)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
	return id, key
}

// Upsert writes a batch of points. Each point's payload must carry
// "memory_id" so deleteByPrefix can filter on it.
func (idx *Index) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qpoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert into %s: %w", idx.collection, err)
	}
	return nil
}

// Query returns the top_k nearest points to vector with score >= minSim.
func (idx *Index) Query(ctx context.Context, vector []float32, topK uint64, minSim float32) ([]Match, error) {
	results, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &topK,
		ScoreThreshold: &minSim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query %s: %w", idx.collection, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ID:      pointIDString(r.Id),
			Score:   r.Score,
			Payload: qdrant.NewValueMap(nil).AsMap(r.Payload),
		})
	}
	return matches, nil
}

// DeleteByPrefix removes every point whose payload "memory_id" field
// equals memoryID, the replacement for a literal key-prefix delete since
// Qdrant addresses points by ID, not string prefix.
func (idx *Index) DeleteByPrefix(ctx context.Context, memoryID string) error {
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("memory_id", memoryID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorindex: delete by prefix %s from %s: %w", memoryID, idx.collection, err)
	}
	return nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uid := id.GetUuid(); uid != "" {
		return uid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// Set bundles the three indexes C2 exposes, one per spec.md §4.2 index.
type Set struct {
	Content      *Index
	Invalidates  *Index
	Confirms     *Index
}

// NewSet opens all three collections against the same Qdrant client.
func NewSet(ctx context.Context, client *qdrant.Client, contentColl, invalidatesColl, confirmsColl string, vectorSize uint64) (*Set, error) {
	content, err := NewIndex(ctx, client, contentColl, vectorSize)
	if err != nil {
		return nil, err
	}
	invalidates, err := NewIndex(ctx, client, invalidatesColl, vectorSize)
	if err != nil {
		return nil, err
	}
	confirms, err := NewIndex(ctx, client, confirmsColl, vectorSize)
	if err != nil {
		return nil, err
	}
	return &Set{Content: content, Invalidates: invalidates, Confirms: confirms}, nil
}

// DeleteMemory removes memoryID's points from all three collections,
// e.g. as part of a retraction.
func (s *Set) DeleteMemory(ctx context.Context, memoryID string) error {
	if err := s.Content.DeleteByPrefix(ctx, memoryID); err != nil {
		return err
	}
	if err := s.Invalidates.DeleteByPrefix(ctx, memoryID); err != nil {
		return err
	}
	if err := s.Confirms.DeleteByPrefix(ctx, memoryID); err != nil {
		return err
	}
	return nil
}
