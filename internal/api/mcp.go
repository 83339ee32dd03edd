package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gantryml/gantry/internal/catalog"
	"github.com/gantryml/gantry/internal/storage"
	"github.com/gantryml/gantry/internal/vectorstore"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Registry  *catalog.Registry
	Generator Generator
	Stores    func(eng storage.QueryEngine) vectorstore.Store
}

// NewMCPServer exposes the gateway's generate and search operations as MCP
// tools, plus the model catalog as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"gantry",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("gantry — multi-tenant model gateway: text generation and semantic search over query engines."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate",
			mcp.WithDescription("Generate text from a prompt with one of the configured models."),
			mcp.WithString("prompt", mcp.Description("Prompt text"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Logical model id"), mcp.Required()),
		),
		mcpGenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Semantically search a query engine and return matching chunks."),
			mcp.WithString("engine", mcp.Description("Query engine name"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("filter", mcp.Description("Optional metadata filter, e.g. genre:ANY(\"drama\") AND year > 2000")),
		),
		mcpSearch(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"gantry://models",
			"Model Catalog",
			mcp.WithResourceDescription("Enabled models and their capabilities as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceModels(deps),
	)

	return s
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		model, err := req.RequireString("model")
		if err != nil {
			return mcpError("model is required"), nil
		}

		out, err := deps.Generator.Generate(ctx, prompt, model)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcpText(out), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		engineName, err := req.RequireString("engine")
		if err != nil {
			return mcpError("engine is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		eng, err := deps.Store.GetQueryEngineByName(engineName)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("query engine %q not found", engineName)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading engine: %v", err)), nil
		}

		var filter vectorstore.Expr
		if raw := req.GetString("filter", ""); raw != "" {
			filter, err = vectorstore.ParseFilter(raw)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid filter: %v", err)), nil
			}
		}

		mask, vectors, err := deps.Generator.Embed(ctx, []string{query}, eng.EmbeddingModel)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding query: %v", err)), nil
		}
		if len(mask) == 0 || !mask[0] {
			return mcpError("embedding the query failed"), nil
		}

		vec := deps.Stores(eng)
		ids, err := vec.SimilaritySearch(ctx, vectors[0], filter)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		results := make([]searchResult, len(ids))
		for i, id := range ids {
			results[i] = searchResult{ID: id}
		}
		if ct, ok := vec.(chunkTexter); ok && len(ids) > 0 {
			if texts, err := ct.ChunkText(ctx, ids); err == nil {
				for i := range results {
					results[i].Text = texts[results[i].ID]
				}
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceModels(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type modelInfo struct {
			ID            string `json:"id"`
			Provider      string `json:"provider"`
			Chat          bool   `json:"chat"`
			Multimodal    bool   `json:"multimodal"`
			Embedding     bool   `json:"embedding"`
			ContextLength int    `json:"context_length,omitempty"`
		}

		var models []modelInfo
		for _, e := range deps.Registry.List(catalog.Any) {
			models = append(models, modelInfo{
				ID:            e.ID,
				Provider:      string(e.Provider),
				Chat:          e.Chat,
				Multimodal:    e.Multimodal,
				Embedding:     e.Embedding,
				ContextLength: e.ContextLength,
			})
		}

		b, err := json.Marshal(models)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal models: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
