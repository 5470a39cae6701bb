package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rohankatakam/memory-engine/internal/bootstrap"
	"github.com/rohankatakam/memory-engine/internal/storage"
)

type recallInput struct {
	ID string `json:"id" jsonschema:"the memory id to recall"`
}

func newRecallTool(app *bootstrap.App) mcp.ToolHandlerFor[recallInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in recallInput) (*mcp.CallToolResult, any, error) {
		m, err := app.Store.GetMemory(ctx, in.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("no memory found with id %s", in.ID)}},
			}, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("recall %s: %w", in.ID, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(
				"%s (state=%s, confidence=%.2f, confirmations=%d, contradictions=%d): %s",
				m.ID, m.State, m.EffectiveConfidence(), m.Confirmations, m.Contradictions, m.Content,
			)}},
		}, nil, nil
	}
}

type findInput struct {
	Query string `json:"query" jsonschema:"the natural-language query to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

func newFindTool(app *bootstrap.App) mcp.ToolHandlerFor[findInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in findInput) (*mcp.CallToolResult, any, error) {
		limit := in.Limit
		if limit <= 0 {
			limit = 10
		}

		vec, err := app.Embedder.Embed(ctx, in.Query)
		if err != nil {
			return nil, nil, fmt.Errorf("embed find query: %w", err)
		}
		matches, err := app.Vectors.Content.Query(ctx, vec, uint64(limit), 0)
		if err != nil {
			return nil, nil, fmt.Errorf("query content index: %w", err)
		}
		if len(matches) == 0 {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "no matches found"}}}, nil, nil
		}

		text := ""
		for _, match := range matches {
			text += fmt.Sprintf("%s (score=%.3f)\n", match.ID, match.Score)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil, nil
	}
}

type zoneInput struct {
	SeedID string `json:"seed_id" jsonschema:"the memory id to build a reasoning zone around"`
	Query  string `json:"query,omitempty" jsonschema:"optional query to expand the zone with semantically related memories"`
}

func newZoneTool(app *bootstrap.App) mcp.ToolHandlerFor[zoneInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in zoneInput) (*mcp.CallToolResult, any, error) {
		report, err := app.Zones.Build(ctx, in.SeedID, in.Query, 2, 5)
		if err != nil {
			return nil, nil, fmt.Errorf("build zone: %w", err)
		}

		text := fmt.Sprintf("zone around %s: safe=%v, score=%.2f, %d member(s), cut=%d, loss=%d",
			report.SeedID, report.Safe, report.Score, len(report.Members), report.CutMinus, report.LossPlus)
		if !report.Safe && report.ConflictEdge != nil {
			text += fmt.Sprintf("; conflict at %s -> %s (%s)", report.ConflictEdge.SourceID, report.ConflictEdge.TargetID, report.ConflictEdge.EdgeType)
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil, nil
	}
}
