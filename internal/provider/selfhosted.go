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

const selfHostedTimeout = 120 * time.Second

// SelfHosted talks to a deployed model container behind a predict endpoint.
// These containers echo the prompt back in front of the completion and often
// wrap the whole output in quotes, so responses are cleaned before returning.
type SelfHosted struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewSelfHosted(baseURL, model, apiKey string) *SelfHosted {
	return &SelfHosted{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: selfHostedTimeout},
	}
}

type selfHostedPredictResponse struct {
	Data struct {
		GeneratedText string `json:"generated_text"`
	} `json:"data"`
}

// Generate sends the prompt to the container's predict route. A
// prompt_template param with a %s placeholder wraps the prompt before
// sending; that wrapped prompt is what gets stripped from the echo.
func (s *SelfHosted) Generate(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if tmpl, ok := req.Params["prompt_template"].(string); ok && strings.Contains(tmpl, "%s") {
		prompt = fmt.Sprintf(tmpl, req.Prompt)
	}

	body := map[string]any{"prompt": "'" + prompt + "'"}
	for k, v := range req.Params {
		if k == "prompt_template" {
			continue
		}
		body[k] = v
	}

	var result selfHostedPredictResponse
	url := fmt.Sprintf("%s/v1/models/%s:predict", s.baseURL, s.model)
	if err := s.post(ctx, url, body, &result); err != nil {
		return "", err
	}
	return cleanGeneratedText(result.Data.GeneratedText, prompt), nil
}

// cleanGeneratedText removes the echoed prompt and any surrounding quotes
// from a container completion.
func cleanGeneratedText(text, prompt string) string {
	text = strings.ReplaceAll(text, prompt, "")
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"'`)
	return strings.TrimSpace(text)
}

type selfHostedEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Embed posts the batch to the container's embedding route. Missing or empty
// vectors mark their slot false in the mask.
func (s *SelfHosted) Embed(ctx context.Context, texts []string, params map[string]any) ([]bool, [][]float32, error) {
	body := map[string]any{"instances": texts}
	for k, v := range params {
		body[k] = v
	}

	var result selfHostedEmbedResponse
	url := fmt.Sprintf("%s/v1/models/%s/embedding", s.baseURL, s.model)
	if err := s.post(ctx, url, body, &result); err != nil {
		return nil, nil, err
	}

	if len(result.Embeddings) != len(texts) {
		return nil, nil, fmt.Errorf("model %s returned %d embeddings for %d texts: %w",
			s.model, len(result.Embeddings), len(texts), ErrBadResponse)
	}

	mask := make([]bool, len(texts))
	vectors := make([][]float32, len(texts))
	for i, e := range result.Embeddings {
		if len(e.Values) > 0 {
			mask[i] = true
			vectors[i] = e.Values
		}
	}
	return mask, vectors, nil
}

// EmbedMultimodal embeds one text+file unit over the multimodal embedding
// route. The route takes a single unit per call.
func (s *SelfHosted) EmbedMultimodal(ctx context.Context, text string, file File) ([]float32, error) {
	body := map[string]any{"is_multimodal": true}
	if text != "" {
		body["text"] = text
	}
	if len(file.Data) > 0 {
		body["data"] = base64.StdEncoding.EncodeToString(file.Data)
		body["mime_type"] = file.MIME
	} else if file.URI != "" {
		body["uri"] = file.URI
		body["mime_type"] = file.MIME
	}

	var result selfHostedEmbedResponse
	url := fmt.Sprintf("%s/v1/models/%s/embedding/multimodal", s.baseURL, s.model)
	if err := s.post(ctx, url, body, &result); err != nil {
		return nil, err
	}

	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("model %s returned no embedding: %w", s.model, ErrBadResponse)
	}
	return result.Embeddings[0].Values, nil
}

func (s *SelfHosted) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, selfHostedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w: %v", url, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w: %v", ErrBadResponse, err)
	}
	return nil
}
