package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gantryml/gantry/internal/storage"
	"github.com/gantryml/gantry/internal/vectorstore"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *fakeGen, *fakeVec) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gen := &fakeGen{output: "generated text"}
	vec := &fakeVec{}
	return MCPDeps{
		Store:     store,
		Registry:  testRegistry(),
		Generator: gen,
		Stores:    func(storage.QueryEngine) vectorstore.Store { return vec },
	}, gen, vec
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_Generate(t *testing.T) {
	deps, gen, _ := newTestMCPDeps(t)
	handler := mcpGenerate(deps)

	req := makeCallToolRequest("generate", map[string]interface{}{
		"prompt": "write a haiku",
		"model":  "chat-1",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "generated text" {
		t.Errorf("output = %q", got)
	}
	if gen.lastModel != "chat-1" || gen.lastPrompt != "write a haiku" {
		t.Errorf("generator called with %q/%q", gen.lastModel, gen.lastPrompt)
	}
}

func TestMCPTool_Generate_MissingArgs(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	handler := mcpGenerate(deps)

	result, err := handler(context.Background(), makeCallToolRequest("generate", map[string]interface{}{
		"prompt": "no model",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing model")
	}
}

func TestMCPTool_Search(t *testing.T) {
	deps, gen, vec := newTestMCPDeps(t)
	err := deps.Store.CreateQueryEngine(storage.QueryEngine{
		ID: "qe1", Name: "Films", Backend: "sqlvec", EmbeddingModel: "embed-1",
	})
	if err != nil {
		t.Fatalf("CreateQueryEngine: %v", err)
	}
	vec.searchIDs = []int64{7}
	vec.texts = map[int64]string{7: "chunk seven"}

	handler := mcpSearch(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search", map[string]interface{}{
		"engine": "Films",
		"query":  "noir classics",
		"filter": `genre:ANY("noir")`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var results []searchResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatalf("parsing results: %v", err)
	}
	if len(results) != 1 || results[0].ID != 7 || results[0].Text != "chunk seven" {
		t.Errorf("results = %+v", results)
	}
	if vec.lastFilter == nil {
		t.Error("filter not forwarded to the store")
	}
	if gen.lastModel != "embed-1" {
		t.Errorf("query embedded with %q, want embed-1", gen.lastModel)
	}
}

func TestMCPTool_Search_UnknownEngine(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	handler := mcpSearch(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search", map[string]interface{}{
		"engine": "nope",
		"query":  "anything",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("result = %q, want not-found tool error", toolText(t, result))
	}
}

func TestMCPTool_Search_BadFilter(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	err := deps.Store.CreateQueryEngine(storage.QueryEngine{
		ID: "qe1", Name: "Films", Backend: "sqlvec", EmbeddingModel: "embed-1",
	})
	if err != nil {
		t.Fatalf("CreateQueryEngine: %v", err)
	}

	handler := mcpSearch(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search", map[string]interface{}{
		"engine": "Films",
		"query":  "q",
		"filter": "year >< 2000",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid filter")
	}
}

func TestMCPResource_Models(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	handler := mcpResourceModels(deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "gantry://models"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var models []map[string]any
	if err := json.Unmarshal([]byte(text.Text), &models); err != nil {
		t.Fatalf("parsing models: %v", err)
	}
	if len(models) != 3 {
		t.Errorf("got %d models, want 3", len(models))
	}
}
