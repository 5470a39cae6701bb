// Package arbiter wraps the LLM arbiter collaborator the write pipeline's
// thesis-change guard (spec.md §4.3) depends on. Treated as an oracle with
// bounded latency and no strong semantics: callers always keep a
// deterministic fallback (the similarity threshold) for when the arbiter
// is unavailable or disabled (nil Arbiter).
package arbiter

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Verdict is the arbiter's classification of a content replacement.
type Verdict string

const (
	VerdictCorrection  Verdict = "CORRECTION"
	VerdictThesisChange Verdict = "THESIS_CHANGE"
)

// Arbiter judges whether replacing oldContent with newContent is a minor
// correction or a full thesis change.
type Arbiter interface {
	Judge(ctx context.Context, oldContent, newContent string) (Verdict, error)
}

const judgePrompt = `You compare two versions of a claim and decide whether the
second is a CORRECTION (same underlying thesis, wording or detail fixed) or a
THESIS_CHANGE (a materially different claim). Respond with exactly one word:
CORRECTION or THESIS_CHANGE.

Original: %s
Revised: %s`

func parseVerdict(s string) Verdict {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.Contains(s, "THESIS_CHANGE") || strings.Contains(s, "THESIS CHANGE") {
		return VerdictThesisChange
	}
	return VerdictCorrection
}

// OpenAIArbiter judges using an OpenAI chat completion with a
// deterministic temperature, matching the teacher's completion style.
type OpenAIArbiter struct {
	client    *openai.Client
	model     string
	maxTokens int
	limiter   *rate.Limiter
}

func NewOpenAIArbiter(apiKey, model string, maxTokens int) *OpenAIArbiter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if maxTokens <= 0 {
		maxTokens = 16
	}
	return &OpenAIArbiter{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (a *OpenAIArbiter) Judge(ctx context.Context, oldContent, newContent string) (Verdict, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("arbiter rate limiter: %w", err)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(judgePrompt, oldContent, newContent)},
		},
		Temperature: 0.0,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai arbiter: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai arbiter: empty response")
	}

	return parseVerdict(resp.Choices[0].Message.Content), nil
}

// GeminiArbiter is the alternate-provider arbiter.
type GeminiArbiter struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

func NewGeminiArbiter(ctx context.Context, apiKey, model string) (*GeminiArbiter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiArbiter{client: client, model: model, limiter: rate.NewLimiter(rate.Limit(5), 10)}, nil
}

func (a *GeminiArbiter) Judge(ctx context.Context, oldContent, newContent string) (Verdict, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("arbiter rate limiter: %w", err)
	}

	temp := float32(0.0)
	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		genai.Text(fmt.Sprintf(judgePrompt, oldContent, newContent)),
		&genai.GenerateContentConfig{Temperature: &temp})
	if err != nil {
		return "", fmt.Errorf("genai arbiter: %w", err)
	}

	return parseVerdict(resp.Text()), nil
}

// New selects a provider by name. An empty provider with no key returns a
// nil Arbiter (valid: the interface's zero value is not usable, so callers
// must check for a nil *Arbiter-typed variable explicitly via ok returns
// upstream in writepipeline, which falls back to the similarity rule).
func New(ctx context.Context, provider, apiKey, model string, maxTokens int) (Arbiter, error) {
	switch provider {
	case "gemini":
		return NewGeminiArbiter(ctx, apiKey, model)
	case "openai", "":
		if apiKey == "" {
			return nil, nil
		}
		return NewOpenAIArbiter(apiKey, model, maxTokens), nil
	default:
		return nil, fmt.Errorf("unknown arbiter provider %q", provider)
	}
}
