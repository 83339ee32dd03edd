package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gantryml/gantry/internal/catalog"
	"github.com/gantryml/gantry/internal/chat"
	"github.com/gantryml/gantry/internal/objstore"
	"github.com/gantryml/gantry/internal/orchestrator"
	"github.com/gantryml/gantry/internal/provider"
	"github.com/gantryml/gantry/internal/storage"
	"github.com/gantryml/gantry/internal/vectorstore"
)

const testToken = "test-token"

type fakeGen struct {
	output  string
	replies []string // consumed first, one per Chat call
	err     error
	vectors [][]float32
	mask    []bool

	lastPrompt  string
	lastModel   string
	lastHistory []chat.Entry
}

func (f *fakeGen) Generate(_ context.Context, prompt, modelID string) (string, error) {
	f.lastPrompt, f.lastModel = prompt, modelID
	return f.output, f.err
}

func (f *fakeGen) Chat(_ context.Context, prompt, modelID string, history []chat.Entry) (string, error) {
	f.lastPrompt, f.lastModel, f.lastHistory = prompt, modelID, history
	if len(f.replies) > 0 {
		out := f.replies[0]
		f.replies = f.replies[1:]
		return out, f.err
	}
	return f.output, f.err
}

func (f *fakeGen) GenerateMultimodal(_ context.Context, prompt, modelID, _ string, _ []byte, _ string) (string, error) {
	f.lastPrompt, f.lastModel = prompt, modelID
	return f.output, f.err
}

func (f *fakeGen) Embed(_ context.Context, texts []string, modelID string) ([]bool, [][]float32, error) {
	f.lastModel = modelID
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.mask != nil {
		return f.mask, f.vectors, nil
	}
	mask := make([]bool, len(texts))
	vectors := make([][]float32, len(texts))
	for i := range texts {
		mask[i] = true
		vectors[i] = []float32{0.1, 0.2}
	}
	return mask, vectors, nil
}

type fakeVec struct {
	searchIDs  []int64
	searchErr  error
	lastFilter vectorstore.Expr
	deployed   bool
	deployErr  error
	deleted    bool
	texts      map[int64]string
}

func (f *fakeVec) InitIndex(context.Context) error { return nil }
func (f *fakeVec) IndexDocument(_ context.Context, _ string, chunks []string, base int64, _ []map[string]any) (int64, error) {
	return base + int64(len(chunks)), nil
}
func (f *fakeVec) IndexDocumentMultimodal(_ context.Context, _ string, chunks []vectorstore.MultimodalChunk, base int64) (int64, error) {
	return base + int64(len(chunks)), nil
}
func (f *fakeVec) Deploy(context.Context) error {
	if f.deployErr != nil {
		return f.deployErr
	}
	f.deployed = true
	return nil
}
func (f *fakeVec) Delete(context.Context) error {
	f.deleted = true
	return nil
}
func (f *fakeVec) SimilaritySearch(_ context.Context, _ []float32, filter vectorstore.Expr) ([]int64, error) {
	f.lastFilter = filter
	return f.searchIDs, f.searchErr
}

func (f *fakeVec) ChunkText(_ context.Context, ids []int64) (map[int64]string, error) {
	return f.texts, nil
}

func testRegistry() *catalog.Registry {
	return catalog.New([]catalog.Entry{
		{ID: "chat-1", Provider: catalog.ProviderHosted, Chat: true, ContextLength: 100, Enabled: true},
		{ID: "embed-1", Provider: catalog.ProviderHosted, Embedding: true, Enabled: true},
		{ID: "restricted", Provider: catalog.ProviderHosted, Chat: true, Roles: []string{"admin"}, Enabled: true},
	}, nil)
}

type testEnv struct {
	store   *storage.Store
	gen     *fakeGen
	vec     *fakeVec
	objects objstore.Client
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:   store,
		gen:     &fakeGen{output: "generated text"},
		vec:     &fakeVec{},
		objects: objstore.NewDir(t.TempDir()),
	}
	env.handler = NewHandler(Deps{
		Store:     store,
		Registry:  testRegistry(),
		Generator: env.gen,
		Stores:    func(storage.QueryEngine) vectorstore.Store { return env.vec },
		Objects:   env.objects,
		Token:     testToken,
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHealth_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/generate", generateRequest{Model: "chat-1", Prompt: "hello"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	if resp["output"] != "generated text" {
		t.Errorf("output = %q", resp["output"])
	}
	if env.gen.lastModel != "chat-1" || env.gen.lastPrompt != "hello" {
		t.Errorf("generator called with %q/%q", env.gen.lastModel, env.gen.lastPrompt)
	}
}

func TestGenerate_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/generate", generateRequest{Model: "chat-1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGenerate_RoleGate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/generate", generateRequest{Model: "restricted", Prompt: "hi"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("without role: status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/generate", generateRequest{Model: "restricted", Prompt: "hi"},
		map[string]string{"X-User-Role": "admin"})
	if rec.Code != http.StatusOK {
		t.Errorf("with admin role: status = %d, want 200", rec.Code)
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown model", fmt.Errorf("model %q: %w", "nope", catalog.ErrNotFound), http.StatusNotFound},
		{"context window", fmt.Errorf("model chat-1: %w", orchestrator.ErrContextWindow), http.StatusBadRequest},
		{"invalid argument", fmt.Errorf("model chat-1: %w", orchestrator.ErrInvalidArgument), http.StatusBadRequest},
		{"provider down", fmt.Errorf("model chat-1: %w", provider.ErrUnavailable), http.StatusBadGateway},
		{"bad response", fmt.Errorf("model chat-1: %w", provider.ErrBadResponse), http.StatusBadGateway},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gen.err = tt.err
			rec := env.do(t, http.MethodPost, "/v1/generate", generateRequest{Model: "chat-1", Prompt: "x"}, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestChat_AppendsHistory(t *testing.T) {
	env := newTestEnv(t)
	conv := storage.Conversation{ID: "c1", UserEmail: "u@example.com", History: "[]"}
	if err := env.store.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/chat", chatRequest{Model: "chat-1", Prompt: "hi", ConversationID: "c1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := env.store.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	var history []chat.Entry
	if err := json.Unmarshal([]byte(got.History), &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d entries, want 2", len(history))
	}
	if chat.HumanText(history[0]) != "hi" || chat.AIText(history[1]) != "generated text" {
		t.Errorf("history = %v, want the exchange recorded", history)
	}
}

func TestChat_ConversationNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/chat", chatRequest{Model: "chat-1", Prompt: "hi", ConversationID: "missing"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEmbed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/embed", embedRequest{Model: "embed-1", Texts: []string{"a", "b"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Mask       []bool      `json:"mask"`
		Embeddings [][]float32 `json:"embeddings"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Mask) != 2 || len(resp.Embeddings) != 2 {
		t.Errorf("mask/embeddings = %v/%v, want two slots", resp.Mask, resp.Embeddings)
	}
}

func TestListModels_FiltersByRole(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/models", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Models []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	decodeJSON(t, rec, &resp)
	for _, m := range resp.Models {
		if m.ID == "restricted" {
			t.Error("restricted model listed for caller without role")
		}
	}
	if len(resp.Models) != 2 {
		t.Errorf("got %d models, want 2", len(resp.Models))
	}
}

func TestCreateEngine(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/engines", createEngineRequest{
		Name: "My Engine", EmbeddingModel: "embed-1",
	}, map[string]string{"X-User-Email": "owner@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	eng, err := env.store.GetQueryEngine(resp["id"])
	if err != nil {
		t.Fatalf("GetQueryEngine: %v", err)
	}
	if eng.Backend != "sqlvec" {
		t.Errorf("Backend = %q, want default sqlvec", eng.Backend)
	}
	if eng.Owner != "owner@example.com" {
		t.Errorf("Owner = %q", eng.Owner)
	}
}

func TestCreateEngine_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/engines", createEngineRequest{Name: "x", EmbeddingModel: "e", Backend: "bogus"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus backend: status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/engines", createEngineRequest{Name: "bad/name", EmbeddingModel: "e"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsluggable name: status = %d, want 400", rec.Code)
	}
}

func TestUploadDocuments_QueuesBuild(t *testing.T) {
	env := newTestEnv(t)
	createAPITestEngine(t, env, "qe1")

	body := map[string]any{
		"documents": []map[string]string{
			{"name": "a.txt", "content": base64.StdEncoding.EncodeToString([]byte("doc content"))},
		},
	}
	rec := env.do(t, http.MethodPost, "/v1/engines/qe1/documents", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Document staged under the engine prefix.
	objects, err := env.objects.List(context.Background(), UploadBucket, "qe1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objects) != 1 || objects[0] != "qe1/a.txt" {
		t.Errorf("staged objects = %v, want [qe1/a.txt]", objects)
	}

	// Build job queued with the staged object.
	job, err := env.store.ClaimNextJob([]string{"index_build"})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	if !strings.Contains(job.PayloadJSON, "qe1/a.txt") {
		t.Errorf("payload %q missing object key", job.PayloadJSON)
	}
}

func TestUploadDocuments_EngineNotFound(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"documents": []map[string]string{{"name": "a.txt", "content": ""}}}
	rec := env.do(t, http.MethodPost, "/v1/engines/missing/documents", body, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSearchEngine(t *testing.T) {
	env := newTestEnv(t)
	createAPITestEngine(t, env, "qe1")
	env.vec.searchIDs = []int64{4, 2}
	env.vec.texts = map[int64]string{4: "chunk four", 2: "chunk two"}

	rec := env.do(t, http.MethodPost, "/v1/engines/qe1/search",
		searchRequest{Query: "find things", Filter: "year > 2000"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []searchResult `json:"results"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].ID != 4 || resp.Results[0].Text != "chunk four" {
		t.Errorf("result 0 = %+v", resp.Results[0])
	}
	if env.vec.lastFilter == nil {
		t.Error("filter was not passed to the store")
	}
	if env.gen.lastModel != "embed-1" {
		t.Errorf("query embedded with %q, want the engine's embedding model", env.gen.lastModel)
	}
}

func TestSearchEngine_BadFilter(t *testing.T) {
	env := newTestEnv(t)
	createAPITestEngine(t, env, "qe1")

	rec := env.do(t, http.MethodPost, "/v1/engines/qe1/search",
		searchRequest{Query: "q", Filter: "year >< 2000"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchEngine_EmbedFailure(t *testing.T) {
	env := newTestEnv(t)
	createAPITestEngine(t, env, "qe1")
	env.gen.mask = []bool{false}
	env.gen.vectors = [][]float32{nil}

	rec := env.do(t, http.MethodPost, "/v1/engines/qe1/search", searchRequest{Query: "q"}, nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestDeployEngine(t *testing.T) {
	env := newTestEnv(t)
	createAPITestEngine(t, env, "qe1")

	rec := env.do(t, http.MethodPost, "/v1/engines/qe1/deploy", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !env.vec.deployed {
		t.Error("store Deploy was not called")
	}
}

func TestDeployEngine_Conflict(t *testing.T) {
	env := newTestEnv(t)
	createAPITestEngine(t, env, "qe1")
	env.vec.deployErr = fmt.Errorf("engine already deployed")

	rec := env.do(t, http.MethodPost, "/v1/engines/qe1/deploy", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestDeleteEngine(t *testing.T) {
	env := newTestEnv(t)
	createAPITestEngine(t, env, "qe1")

	rec := env.do(t, http.MethodDelete, "/v1/engines/qe1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !env.vec.deleted {
		t.Error("store Delete was not called")
	}
	if _, err := env.store.GetQueryEngine("qe1"); err == nil {
		t.Error("engine record still present after delete")
	}
}

func createAPITestEngine(t *testing.T, env *testEnv, id string) {
	t.Helper()
	err := env.store.CreateQueryEngine(storage.QueryEngine{
		ID:             id,
		Name:           "Engine " + id,
		Backend:        "sqlvec",
		EmbeddingModel: "embed-1",
		Owner:          "owner@example.com",
	})
	if err != nil {
		t.Fatalf("CreateQueryEngine: %v", err)
	}
}
