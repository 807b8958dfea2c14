// Package rerank calls an external relevance reranker over the local
// ranking window, with a deterministic local fallback when the service is
// unavailable.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Service reranks a window of documents against a query and returns the
// indices of the documents in relevance order.
type Service interface {
	Rerank(ctx context.Context, query string, documents []string) ([]int, error)
}

// HTTPService talks to a rerank endpoint over HTTP.
type HTTPService struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPService creates a reranker client. A zero timeout defaults to ten
// seconds.
func NewHTTPService(endpoint, apiKey string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPService{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank posts the query and documents and returns document indices in
// relevance order.
func (s *HTTPService) Rerank(ctx context.Context, query string, documents []string) ([]int, error) {
	if s.endpoint == "" {
		return nil, fmt.Errorf("rerank endpoint not configured")
	}
	if len(documents) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service returned status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	order := make([]int, 0, len(parsed.Results))
	seen := make(map[int]bool)
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(documents) || seen[r.Index] {
			return nil, fmt.Errorf("rerank response contains invalid index %d", r.Index)
		}
		seen[r.Index] = true
		order = append(order, r.Index)
	}
	if len(order) != len(documents) {
		return nil, fmt.Errorf("rerank response covered %d of %d documents", len(order), len(documents))
	}
	return order, nil
}
