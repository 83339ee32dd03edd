package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const genericTimeout = 60 * time.Second

// Generic talks to any OpenAI-compatible endpoint. No retries; the route is
// best-effort and the orchestrator surfaces failures directly.
type Generic struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewGeneric(baseURL, model, apiKey string) *Generic {
	return &Generic{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: genericTimeout},
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends the prompt as a single user message to /chat/completions.
func (g *Generic) Generate(ctx context.Context, req Request) (string, error) {
	body := chatCompletionRequest{
		Model:    g.model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	if v, ok := floatParam(req.Params, "temperature"); ok {
		body.Temperature = &v
	}
	if v, ok := floatParam(req.Params, "top_p"); ok {
		body.TopP = &v
	}
	if v, ok := intParam(req.Params, "max_tokens"); ok {
		body.MaxTokens = &v
	}

	var result chatCompletionResponse
	if err := g.post(ctx, g.baseURL+"/chat/completions", body, &result); err != nil {
		return "", err
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices: %w", g.model, ErrBadResponse)
	}
	return result.Choices[0].Message.Content, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed posts the batch to /embeddings. Slots the endpoint does not return a
// vector for are marked false in the mask.
func (g *Generic) Embed(ctx context.Context, texts []string, params map[string]any) ([]bool, [][]float32, error) {
	var result embeddingsResponse
	if err := g.post(ctx, g.baseURL+"/embeddings", embeddingsRequest{Model: g.model, Input: texts}, &result); err != nil {
		return nil, nil, err
	}

	mask := make([]bool, len(texts))
	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, nil, fmt.Errorf("model %s returned out-of-range index %d: %w", g.model, d.Index, ErrBadResponse)
		}
		if len(d.Embedding) > 0 {
			mask[d.Index] = true
			vectors[d.Index] = d.Embedding
		}
	}
	return mask, vectors, nil
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func (g *Generic) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, genericTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w: %v", url, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w: %v", ErrBadResponse, err)
	}
	return nil
}
