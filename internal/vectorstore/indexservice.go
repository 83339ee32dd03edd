package vectorstore

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

const indexServiceTimeout = 120 * time.Second

// IndexService is the control plane of the managed nearest-neighbor index:
// index and endpoint lifecycle plus neighbor queries.
type IndexService interface {
	CreateIndex(ctx context.Context, displayName, contentsURI string) (indexID string, err error)
	UpdateIndex(ctx context.Context, indexID, contentsURI string) error
	CreateEndpoint(ctx context.Context, displayName string) (endpointID string, err error)
	DeployIndex(ctx context.Context, indexID, endpointID, deployedName string) error
	QueryNeighbors(ctx context.Context, endpointID, deployedName string, embedding []float32, filter map[string]any, count int) ([]int64, error)
	DeleteIndex(ctx context.Context, indexID string) error
	DeleteEndpoint(ctx context.Context, endpointID string) error
}

// HTTPIndexService talks to the index service's REST API.
type HTTPIndexService struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPIndexService(baseURL string) *HTTPIndexService {
	return &HTTPIndexService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: indexServiceTimeout},
	}
}

func (s *HTTPIndexService) CreateIndex(ctx context.Context, displayName, contentsURI string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := s.do(ctx, http.MethodPost, "/v1/indexes", map[string]any{
		"display_name": displayName,
		"contents_uri": contentsURI,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("creating index %s: %w", displayName, err)
	}
	return out.ID, nil
}

func (s *HTTPIndexService) UpdateIndex(ctx context.Context, indexID, contentsURI string) error {
	err := s.do(ctx, http.MethodPatch, "/v1/indexes/"+indexID, map[string]any{
		"contents_uri": contentsURI,
	}, nil)
	if err != nil {
		return fmt.Errorf("updating index %s: %w", indexID, err)
	}
	return nil
}

func (s *HTTPIndexService) CreateEndpoint(ctx context.Context, displayName string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := s.do(ctx, http.MethodPost, "/v1/endpoints", map[string]any{
		"display_name": displayName,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("creating endpoint %s: %w", displayName, err)
	}
	return out.ID, nil
}

func (s *HTTPIndexService) DeployIndex(ctx context.Context, indexID, endpointID, deployedName string) error {
	err := s.do(ctx, http.MethodPost, "/v1/endpoints/"+endpointID+":deploy", map[string]any{
		"index_id":      indexID,
		"deployed_name": deployedName,
	}, nil)
	if err != nil {
		return fmt.Errorf("deploying index %s to endpoint %s: %w", indexID, endpointID, err)
	}
	return nil
}

func (s *HTTPIndexService) QueryNeighbors(ctx context.Context, endpointID, deployedName string, embedding []float32, filter map[string]any, count int) ([]int64, error) {
	body := map[string]any{
		"deployed_name": deployedName,
		"embedding":     embedding,
		"count":         count,
	}
	if filter != nil {
		body["filter"] = filter
	}

	var out struct {
		Neighbors []struct {
			ID int64 `json:"id"`
		} `json:"neighbors"`
	}
	err := s.do(ctx, http.MethodPost, "/v1/endpoints/"+endpointID+":query", body, &out)
	if err != nil {
		return nil, fmt.Errorf("querying endpoint %s: %w", endpointID, err)
	}

	ids := make([]int64, len(out.Neighbors))
	for i, n := range out.Neighbors {
		ids[i] = n.ID
	}
	return ids, nil
}

func (s *HTTPIndexService) DeleteIndex(ctx context.Context, indexID string) error {
	if err := s.do(ctx, http.MethodDelete, "/v1/indexes/"+indexID, nil, nil); err != nil {
		return fmt.Errorf("deleting index %s: %w", indexID, err)
	}
	return nil
}

func (s *HTTPIndexService) DeleteEndpoint(ctx context.Context, endpointID string) error {
	if err := s.do(ctx, http.MethodDelete, "/v1/endpoints/"+endpointID, nil, nil); err != nil {
		return fmt.Errorf("deleting endpoint %s: %w", endpointID, err)
	}
	return nil
}

func (s *HTTPIndexService) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, indexServiceTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
