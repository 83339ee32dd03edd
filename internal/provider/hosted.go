package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const hostedTimeout = 60 * time.Second

// newGenerationMarker selects the new-generation request shape. Backend model
// names carry the family name as a substring ("gemini-1.5-pro"); older models
// ("chat-bison", "text-bison") use the legacy predict shape.
const newGenerationMarker = "gemini"

// defaultSafety passes every harm category with the most permissive
// threshold. Callers can override per request.
var defaultSafety = map[string]string{
	"HARM_CATEGORY_SEXUALLY_EXPLICIT": "BLOCK_NONE",
	"HARM_CATEGORY_DANGEROUS_CONTENT": "BLOCK_NONE",
	"HARM_CATEGORY_HATE_SPEECH":       "BLOCK_NONE",
	"HARM_CATEGORY_HARASSMENT":        "BLOCK_NONE",
}

// Hosted talks to the native hosted-model family over its REST surface.
type Hosted struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewHosted creates a Hosted adapter for one backend model name.
func NewHosted(baseURL, model, apiKey string) *Hosted {
	return &Hosted{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: hostedTimeout},
	}
}

// isNewGeneration reports whether the backend model uses the new-generation
// content API rather than the legacy predict API.
func (h *Hosted) isNewGeneration() bool {
	return strings.Contains(h.model, newGenerationMarker)
}

// Generate produces text for the request. New-generation chat models receive
// either a single multimodal content list (file parts followed by the text)
// or a plain text turn; legacy models always receive the predict shape.
func (h *Hosted) Generate(ctx context.Context, req Request) (string, error) {
	if req.Chat && h.isNewGeneration() {
		return h.generateContent(ctx, req)
	}
	return h.predict(ctx, req)
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
	FileData   *fileData   `json:"file_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type fileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateContentRequest struct {
	Contents []struct {
		Role  string        `json:"role"`
		Parts []contentPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig map[string]any  `json:"generationConfig,omitempty"`
	SafetySettings   []safetySetting `json:"safetySettings,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []contentPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (h *Hosted) generateContent(ctx context.Context, req Request) (string, error) {
	var parts []contentPart
	for _, f := range req.Files {
		if f.URI != "" {
			parts = append(parts, contentPart{FileData: &fileData{MIMEType: f.MIME, FileURI: f.URI}})
		} else {
			parts = append(parts, contentPart{InlineData: &inlineData{
				MIMEType: f.MIME,
				Data:     base64.StdEncoding.EncodeToString(f.Data),
			}})
		}
	}
	parts = append(parts, contentPart{Text: req.Prompt})

	safety := req.Safety
	if safety == nil {
		safety = defaultSafety
	}
	var settings []safetySetting
	for _, category := range []string{
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_HARASSMENT",
	} {
		threshold, ok := safety[category]
		if !ok {
			threshold = "BLOCK_NONE"
		}
		settings = append(settings, safetySetting{Category: category, Threshold: threshold})
	}

	body := generateContentRequest{
		GenerationConfig: req.Params,
		SafetySettings:   settings,
	}
	body.Contents = append(body.Contents, struct {
		Role  string        `json:"role"`
		Parts []contentPart `json:"parts"`
	}{Role: "user", Parts: parts})

	var result generateContentResponse
	url := fmt.Sprintf("%s/v1/models/%s:generateContent", h.baseURL, h.model)
	if err := h.post(ctx, url, body, &result); err != nil {
		return "", err
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("model %s returned no candidates: %w", h.model, ErrBadResponse)
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

type predictRequest struct {
	Instances  []map[string]any `json:"instances"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		Content    string `json:"content"`
		Embeddings *struct {
			Values []float32 `json:"values"`
		} `json:"embeddings,omitempty"`
	} `json:"predictions"`
}

func (h *Hosted) predict(ctx context.Context, req Request) (string, error) {
	body := predictRequest{
		Instances:  []map[string]any{{"prompt": req.Prompt}},
		Parameters: req.Params,
	}

	var result predictResponse
	url := fmt.Sprintf("%s/v1/models/%s:predict", h.baseURL, h.model)
	if err := h.post(ctx, url, body, &result); err != nil {
		return "", err
	}

	if len(result.Predictions) == 0 {
		return "", fmt.Errorf("model %s returned no predictions: %w", h.model, ErrBadResponse)
	}

	texts := make([]string, len(result.Predictions))
	for i, p := range result.Predictions {
		texts[i] = p.Content
	}
	return strings.Join(texts, "\n"), nil
}

// Embed computes embeddings for a batch of texts. A prediction without a
// vector marks its slot false in the mask; the caller decides whether the
// batch survives.
func (h *Hosted) Embed(ctx context.Context, texts []string, params map[string]any) ([]bool, [][]float32, error) {
	instances := make([]map[string]any, len(texts))
	for i, t := range texts {
		instances[i] = map[string]any{"content": t}
	}

	var result predictResponse
	url := fmt.Sprintf("%s/v1/models/%s:predict", h.baseURL, h.model)
	if err := h.post(ctx, url, predictRequest{Instances: instances, Parameters: params}, &result); err != nil {
		return nil, nil, err
	}

	if len(result.Predictions) != len(texts) {
		return nil, nil, fmt.Errorf("model %s returned %d predictions for %d texts: %w",
			h.model, len(result.Predictions), len(texts), ErrBadResponse)
	}

	mask := make([]bool, len(texts))
	vectors := make([][]float32, len(texts))
	for i, p := range result.Predictions {
		if p.Embeddings != nil && len(p.Embeddings.Values) > 0 {
			mask[i] = true
			vectors[i] = p.Embeddings.Values
		}
	}
	return mask, vectors, nil
}

// EmbedMultimodal embeds one text+file unit. The embedding model accepts a
// single multimodal instance per call, so there is no batch variant.
func (h *Hosted) EmbedMultimodal(ctx context.Context, text string, file File) ([]float32, error) {
	instance := map[string]any{}
	if text != "" {
		instance["text"] = text
	}
	if len(file.Data) > 0 {
		key := "image"
		if strings.HasPrefix(file.MIME, "video/") {
			key = "video"
		}
		instance[key] = map[string]any{
			"bytesBase64Encoded": base64.StdEncoding.EncodeToString(file.Data),
			"mimeType":           file.MIME,
		}
	}

	var result predictResponse
	url := fmt.Sprintf("%s/v1/models/%s:predict", h.baseURL, h.model)
	if err := h.post(ctx, url, predictRequest{Instances: []map[string]any{instance}}, &result); err != nil {
		return nil, err
	}

	if len(result.Predictions) == 0 || result.Predictions[0].Embeddings == nil {
		return nil, fmt.Errorf("model %s returned no embedding: %w", h.model, ErrBadResponse)
	}
	return result.Predictions[0].Embeddings.Values, nil
}

func (h *Hosted) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, hostedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
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
