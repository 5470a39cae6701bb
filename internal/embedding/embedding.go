// Package embedding wraps the text embedding collaborator the write
// pipeline (C3) and exposure checker (C4) depend on. The core treats the
// embedding model as an out-of-scope oracle with a bounded-latency
// contract: Embed(ctx, text) -> unit vector. Two providers are wired,
// selected by config, mirroring the teacher's internal/llm.Client
// provider-switch pattern.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Embedder turns text into a unit-normalized dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds multiple strings; implementations may fan these
	// out concurrently (condition embedding, spec.md §4.3 step 5).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// normalize rescales v to unit length in place, matching the cosine-
// distance contract the vector index (C2) assumes for every collection.
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// OpenAIEmbedder calls OpenAI's embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder using text-embedding-3-small by
// default, matching the config's EmbeddingConfig.Model.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		client:  openai.NewClient(apiKey),
		model:   model,
		dims:    1536,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = normalize(d.Embedding)
	}
	return out, nil
}

// GeminiEmbedder calls Gemini's embedding endpoint via google.golang.org/genai.
type GeminiEmbedder struct {
	client  *genai.Client
	model   string
	dims    int
	limiter *rate.Limiter
}

// NewGeminiEmbedder creates the alternate-provider embedder.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	if model == "" {
		model = "text-embedding-004"
	}
	return &GeminiEmbedder{
		client:  client,
		model:   model,
		dims:    768,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}, nil
}

func (e *GeminiEmbedder) Dimensions() int { return e.dims }

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("genai embed content: %w", err)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = normalize(emb.Values)
	}
	return out, nil
}

// New selects a provider by name ("openai" or "gemini"), matching the
// config's EmbeddingConfig.Provider field.
func New(ctx context.Context, provider, apiKey, model string) (Embedder, error) {
	switch provider {
	case "gemini":
		return NewGeminiEmbedder(ctx, apiKey, model)
	case "openai", "":
		return NewOpenAIEmbedder(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
