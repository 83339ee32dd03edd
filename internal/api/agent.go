package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gantryml/gantry/internal/agent"
	"github.com/gantryml/gantry/internal/chat"
	"github.com/gantryml/gantry/internal/storage"
)

type agentRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id"`
}

// loadHistory resolves an optional conversation id into its parsed history.
// An empty id yields an empty history and a zero conversation.
func loadHistory(deps Deps, id string) (storage.Conversation, []chat.Entry, error) {
	if id == "" {
		return storage.Conversation{}, nil, nil
	}
	conv, err := deps.Store.GetConversation(id)
	if err != nil {
		return storage.Conversation{}, nil, err
	}
	var history []chat.Entry
	if err := json.Unmarshal([]byte(conv.History), &history); err != nil {
		return storage.Conversation{}, nil, err
	}
	return conv, history, nil
}

func decodeAgentRequest(deps Deps, w http.ResponseWriter, r *http.Request) (agentRequest, storage.Conversation, []chat.Entry, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return req, storage.Conversation{}, nil, false
	}
	if req.Model == "" || req.Prompt == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "model and prompt are required")
		return req, storage.Conversation{}, nil, false
	}
	if !checkModelAccess(deps, w, r, req.Model) {
		return req, storage.Conversation{}, nil, false
	}

	conv, history, err := loadHistory(deps, req.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "conversation not found")
		return req, storage.Conversation{}, nil, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load conversation: %v", err)
		return req, storage.Conversation{}, nil, false
	}
	return req, conv, history, true
}

// handleAgentPlan asks the model for a numbered plan without executing it.
func handleAgentPlan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, _, history, ok := decodeAgentRequest(deps, w, r)
		if !ok {
			return
		}

		runner := agent.NewRunner(deps.Generator, req.Model, nil)
		plan, err := runner.Plan(r.Context(), req.Prompt, history)
		if errors.Is(err, agent.ErrNoPlan) {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		if err != nil {
			generationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"preamble": plan.Preamble,
			"steps":    plan.Steps,
		})
	}
}

// handleAgentRun plans and then executes in one call, persisting the task
// exchange onto the conversation when one is given.
func handleAgentRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, conv, history, ok := decodeAgentRequest(deps, w, r)
		if !ok {
			return
		}

		runner := agent.NewRunner(deps.Generator, req.Model, nil)
		plan, err := runner.Plan(r.Context(), req.Prompt, history)
		if errors.Is(err, agent.ErrNoPlan) {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		if err != nil {
			generationError(w, err)
			return
		}

		out, trace, updated, err := runner.Execute(r.Context(), plan, history)
		if err != nil {
			generationError(w, err)
			return
		}

		if req.ConversationID != "" {
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
		json.NewEncoder(w).Encode(map[string]any{
			"output":   out,
			"preamble": plan.Preamble,
			"steps":    plan.Steps,
			"trace":    trace,
		})
	}
}
