// Command memory-mcp exposes the read surface of the belief graph as
// MCP tools over stdio, for an agent to query during a reasoning
// session without going through the HTTP API. Grounded on the
// modelcontextprotocol/go-sdk dependency the teacher already carries
// in go.mod (previously unwired — its own internal/mcp package rolled
// a handler instead of using the SDK).
package main

import (
	"context"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rohankatakam/memory-engine/internal/bootstrap"
	"github.com/rohankatakam/memory-engine/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("MEMORY_ENGINE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Store.Close()

	server := mcp.NewServer(&mcp.Implementation{Name: "memory-engine", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory.recall",
		Description: "Load a memory by id, including its current confidence, state and violation history.",
	}, newRecallTool(app))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory.find",
		Description: "Search memories by semantic similarity to a natural-language query.",
	}, newFindTool(app))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory.zone",
		Description: "Build the structurally-balanced reasoning zone around a memory, safe to reason over together.",
	}, newZoneTool(app))

	log.Println("memory-mcp started on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
