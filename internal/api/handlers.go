// Package api is the HTTP surface of the gateway: generation and embedding
// endpoints, conversation storage, and the query-engine lifecycle.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gantryml/gantry/internal/catalog"
	"github.com/gantryml/gantry/internal/chat"
	"github.com/gantryml/gantry/internal/filetype"
	"github.com/gantryml/gantry/internal/ingest"
	"github.com/gantryml/gantry/internal/objstore"
	"github.com/gantryml/gantry/internal/orchestrator"
	"github.com/gantryml/gantry/internal/provider"
	"github.com/gantryml/gantry/internal/storage"
	"github.com/gantryml/gantry/internal/vectorstore"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadBodySize = 32 << 20 // 32MB

// UploadBucket is where build documents are staged before the worker picks
// them up.
const UploadBucket = "uploads"

// Generator is the slice of the generation layer the handlers need.
type Generator interface {
	Generate(ctx context.Context, prompt, modelID string) (string, error)
	Chat(ctx context.Context, prompt, modelID string, history []chat.Entry) (string, error)
	GenerateMultimodal(ctx context.Context, prompt, modelID, fileName string, data []byte, fileURL string) (string, error)
	Embed(ctx context.Context, texts []string, modelID string) ([]bool, [][]float32, error)
}

// Deps holds everything the HTTP surface is wired with.
type Deps struct {
	Store     *storage.Store
	Registry  *catalog.Registry
	Generator Generator
	Stores    ingest.StoreFactory
	Objects   objstore.Client
	Token     string
}

// NewHandler builds the authenticated gateway router. /health stays open;
// everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/v1/models", handleListModels(deps))
		r.Post("/v1/generate", handleGenerate(deps))
		r.Post("/v1/generate/multimodal", handleGenerateMultimodal(deps))
		r.Post("/v1/chat", handleChat(deps))
		r.Post("/v1/embed", handleEmbed(deps))
		r.Post("/v1/agent/plan", handleAgentPlan(deps))
		r.Post("/v1/agent/run", handleAgentRun(deps))

		r.Post("/v1/conversations", handleCreateConversation(deps))
		r.Get("/v1/conversations", handleListConversations(deps))
		r.Get("/v1/conversations/{id}", handleGetConversation(deps))

		r.Post("/v1/engines", handleCreateEngine(deps))
		r.Get("/v1/engines", handleListEngines(deps))
		r.Get("/v1/engines/{id}", handleGetEngine(deps))
		r.Post("/v1/engines/{id}/documents", handleUploadDocuments(deps))
		r.Post("/v1/engines/{id}/deploy", handleDeployEngine(deps))
		r.Post("/v1/engines/{id}/search", handleSearchEngine(deps))
		r.Delete("/v1/engines/{id}", handleDeleteEngine(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// callerFrom reads the caller attributes forwarded by the auth proxy.
func callerFrom(r *http.Request) catalog.Caller {
	return catalog.Caller{
		Email: r.Header.Get("X-User-Email"),
		Role:  r.Header.Get("X-User-Role"),
	}
}

func handleListModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)

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
			if !deps.Registry.EnabledForCaller(e.ID, caller) {
				continue
			}
			models = append(models, modelInfo{
				ID:            e.ID,
				Provider:      string(e.Provider),
				Chat:          e.Chat,
				Multimodal:    e.Multimodal,
				Embedding:     e.Embedding,
				ContextLength: e.ContextLength,
			})
		}
		if models == nil {
			models = []modelInfo{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	}
}

// checkModelAccess gates a model behind the caller's role. Unknown models
// fall through so the generation call reports them uniformly.
func checkModelAccess(deps Deps, w http.ResponseWriter, r *http.Request, modelID string) bool {
	if _, err := deps.Registry.Get(modelID); err != nil {
		return true
	}
	if !deps.Registry.EnabledForCaller(modelID, callerFrom(r)) {
		httpError(w, http.StatusForbidden, "permission_error", "model %s is not available to this caller", modelID)
		return false
	}
	return true
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Model == "" || req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "model and prompt are required")
			return
		}
		if !checkModelAccess(deps, w, r, req.Model) {
			return
		}

		out, err := deps.Generator.Generate(r.Context(), req.Prompt, req.Model)
		if err != nil {
			generationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"output": out})
	}
}

type multimodalRequest struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	FileName string `json:"file_name"`
	Data     string `json:"data"` // base64
	URL      string `json:"url"`
}

func handleGenerateMultimodal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req multimodalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Model == "" || req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "model and prompt are required")
			return
		}
		if !checkModelAccess(deps, w, r, req.Model) {
			return
		}

		var data []byte
		if req.Data != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.Data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 data")
				return
			}
			data = decoded
		}

		out, err := deps.Generator.GenerateMultimodal(r.Context(), req.Prompt, req.Model, req.FileName, data, req.URL)
		if err != nil {
			generationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"output": out})
	}
}

type chatRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Model == "" || req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "model and prompt are required")
			return
		}
		if !checkModelAccess(deps, w, r, req.Model) {
			return
		}

		var history []chat.Entry
		var conv storage.Conversation
		if req.ConversationID != "" {
			var err error
			conv, err = deps.Store.GetConversation(req.ConversationID)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load conversation: %v", err)
				return
			}
			if err := json.Unmarshal([]byte(conv.History), &history); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "corrupt conversation history: %v", err)
				return
			}
		}

		out, err := deps.Generator.Chat(r.Context(), req.Prompt, req.Model, history)
		if err != nil {
			generationError(w, err)
			return
		}

		if req.ConversationID != "" {
			updated := append(history, chat.Exchange(req.Prompt, out)...)
			b, err := json.Marshal(updated)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal history: %v", err)
				return
			}
			if err := deps.Store.UpdateHistory(conv.ID, string(b)); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save history: %v", err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"output":          out,
			"conversation_id": req.ConversationID,
		})
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

func handleEmbed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Model == "" || len(req.Texts) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "model and texts are required")
			return
		}
		if !checkModelAccess(deps, w, r, req.Model) {
			return
		}

		mask, vectors, err := deps.Generator.Embed(r.Context(), req.Texts, req.Model)
		if err != nil {
			generationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"mask":       mask,
			"embeddings": vectors,
		})
	}
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		conv := storage.Conversation{
			ID:        uuid.New().String(),
			UserEmail: callerFrom(r).Email,
			Title:     req.Title,
			History:   "[]",
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateConversation(conv); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": conv.ID})
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		convs, err := deps.Store.ListConversations(callerFrom(r).Email, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(convs)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Store.GetConversation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conv)
	}
}

type createEngineRequest struct {
	Name           string   `json:"name"`
	Backend        string   `json:"backend"`
	EmbeddingModel string   `json:"embedding_model"`
	Public         bool     `json:"public"`
	AccessGroups   []string `json:"access_groups"`
}

func handleCreateEngine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createEngineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" || req.EmbeddingModel == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name and embedding_model are required")
			return
		}
		if req.Backend == "" {
			req.Backend = "sqlvec"
		}
		if req.Backend != "matching" && req.Backend != "sqlvec" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown backend %q", req.Backend)
			return
		}

		// The engine name must slug cleanly; fail at creation, not at the
		// first build.
		if _, err := vectorstore.Slug(req.Name); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid engine name: %v", err)
			return
		}

		groupsJSON := "[]"
		if len(req.AccessGroups) > 0 {
			b, err := json.Marshal(req.AccessGroups)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal access groups: %v", err)
				return
			}
			groupsJSON = string(b)
		}

		eng := storage.QueryEngine{
			ID:             uuid.New().String(),
			Name:           req.Name,
			Backend:        req.Backend,
			EmbeddingModel: req.EmbeddingModel,
			Owner:          callerFrom(r).Email,
			Public:         req.Public,
			AccessGroups:   groupsJSON,
		}
		if err := deps.Store.CreateQueryEngine(eng); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create engine: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": eng.ID})
	}
}

func handleListEngines(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engines, err := deps.Store.ListQueryEngines()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list engines: %v", err)
			return
		}
		if engines == nil {
			engines = []storage.QueryEngine{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(engines)
	}
}

func handleGetEngine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, err := deps.Store.GetQueryEngine(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "engine not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get engine: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eng)
	}
}

type uploadDocumentsRequest struct {
	Documents []struct {
		Name    string `json:"name"`
		Content string `json:"content"` // base64
	} `json:"documents"`
}

// handleUploadDocuments stages documents into the upload bucket and queues
// an index build. The build itself runs out-of-band on the worker.
func handleUploadDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		engineID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetQueryEngine(engineID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "engine not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get engine: %v", err)
			return
		}

		var req uploadDocumentsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Documents) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents is required and must not be empty")
			return
		}

		ctx := r.Context()
		if err := deps.Objects.EnsureBucket(ctx, UploadBucket); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to prepare upload bucket: %v", err)
			return
		}

		objects := make([]string, 0, len(req.Documents))
		for _, doc := range req.Documents {
			if doc.Name == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "document name is required")
				return
			}
			content, err := base64.StdEncoding.DecodeString(doc.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "document %s: invalid base64 content", doc.Name)
				return
			}
			key := engineID + "/" + doc.Name
			if err := deps.Objects.Upload(ctx, UploadBucket, key, bytes.NewReader(content)); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to stage %s: %v", doc.Name, err)
				return
			}
			objects = append(objects, key)
		}

		payload, err := json.Marshal(ingest.BuildPayload{
			EngineID: engineID,
			Bucket:   UploadBucket,
			Objects:  objects,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeIndexBuild,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue build: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"job_id": job.ID,
			"status": "queued",
		})
	}
}

func handleDeployEngine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, err := deps.Store.GetQueryEngine(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "engine not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get engine: %v", err)
			return
		}

		if err := deps.Stores(eng).Deploy(r.Context()); err != nil {
			httpError(w, http.StatusConflict, "api_error", "deploy failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deployed"})
	}
}

type searchRequest struct {
	Query  string `json:"query"`
	Filter string `json:"filter"`
}

type searchResult struct {
	ID   int64  `json:"id"`
	Text string `json:"text,omitempty"`
}

// chunkTexter is implemented by backends that can return chunk text for
// matched ids.
type chunkTexter interface {
	ChunkText(ctx context.Context, ids []int64) (map[int64]string, error)
}

func handleSearchEngine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		eng, err := deps.Store.GetQueryEngine(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "engine not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get engine: %v", err)
			return
		}

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		var filter vectorstore.Expr
		if req.Filter != "" {
			filter, err = vectorstore.ParseFilter(req.Filter)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid filter: %v", err)
				return
			}
		}

		mask, vectors, err := deps.Generator.Embed(r.Context(), []string{req.Query}, eng.EmbeddingModel)
		if err != nil {
			generationError(w, err)
			return
		}
		if len(mask) == 0 || !mask[0] {
			httpError(w, http.StatusBadGateway, "api_error", "embedding the query failed")
			return
		}

		vec := deps.Stores(eng)
		ids, err := vec.SimilaritySearch(r.Context(), vectors[0], filter)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		results := make([]searchResult, len(ids))
		for i, id := range ids {
			results[i] = searchResult{ID: id}
		}
		if ct, ok := vec.(chunkTexter); ok && len(ids) > 0 {
			texts, err := ct.ChunkText(r.Context(), ids)
			if err == nil {
				for i := range results {
					results[i].Text = texts[results[i].ID]
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}
}

func handleDeleteEngine(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, err := deps.Store.GetQueryEngine(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "engine not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get engine: %v", err)
			return
		}

		if err := deps.Stores(eng).Delete(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to tear down index: %v", err)
			return
		}
		if err := deps.Store.DeleteQueryEngine(eng.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete engine: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

// generationError maps generation-layer failures onto HTTP statuses.
func generationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, catalog.ErrPermissionDenied):
		httpError(w, http.StatusForbidden, "permission_error", "%v", err)
	case errors.Is(err, orchestrator.ErrContextWindow),
		errors.Is(err, orchestrator.ErrInvalidArgument),
		errors.Is(err, filetype.ErrUnsupported):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, provider.ErrUnavailable), errors.Is(err, provider.ErrBadResponse):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
