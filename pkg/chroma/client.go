// Package chroma provides a client for the Chroma vector database HTTP API.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Chroma collection operations used by retrieval.
type Client interface {
	// EnsureCollection creates the named collection if it does not exist
	// and returns its ID.
	EnsureCollection(ctx context.Context, name string) (string, error)
	// Upsert inserts or replaces records in a collection.
	Upsert(ctx context.Context, collectionID string, records Records) error
	// Query runs a nearest-neighbor search and returns ranked results.
	Query(ctx context.Context, collectionID string, req QueryRequest) (*QueryResponse, error)
	// Get fetches records by ID. Missing IDs are simply absent from the result.
	Get(ctx context.Context, collectionID string, ids []string) (*Records, error)
	// Count returns the number of records in a collection.
	Count(ctx context.Context, collectionID string) (int, error)
}

// Records holds parallel arrays of documents, one element per record.
type Records struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings,omitempty"`
	Documents  []string         `json:"documents,omitempty"`
	Metadatas  []map[string]any `json:"metadatas,omitempty"`
}

// QueryRequest is a nearest-neighbor search over one embedded query.
type QueryRequest struct {
	Embedding []float32
	K         int
	// Where is an optional equality filter on metadata fields,
	// e.g. {"category": "tools"}.
	Where map[string]any
}

// QueryResponse holds ranked results as parallel arrays ordered by
// descending similarity. The order is exactly what the server returned.
type QueryResponse struct {
	IDs       []string
	Documents []string
	Metadatas []map[string]any
	Distances []float32
}

// Option configures the Chroma client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new Chroma API client.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// postJSON executes a JSON POST with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, eris.Wrap(err, "chroma: marshal request")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, 0, eris.Wrap(err, "chroma: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "chroma: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("chroma: status %d: %s", resp.StatusCode, string(respBody))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return respBody, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) EnsureCollection(ctx context.Context, name string) (string, error) {
	payload := map[string]any{
		"name":          name,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}

	body, statusCode, err := c.postJSON(ctx, "/api/v1/collections", payload)
	if err != nil {
		return "", eris.Wrap(err, "chroma: ensure collection")
	}
	if statusCode != http.StatusOK {
		return "", eris.Errorf("chroma: ensure collection unexpected status %d: %s", statusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "chroma: unmarshal collection")
	}
	if result.ID == "" {
		return "", eris.New("chroma: collection response missing id")
	}
	return result.ID, nil
}

func (c *httpClient) Upsert(ctx context.Context, collectionID string, records Records) error {
	if len(records.IDs) == 0 {
		return nil
	}

	path := fmt.Sprintf("/api/v1/collections/%s/upsert", collectionID)
	body, statusCode, err := c.postJSON(ctx, path, records)
	if err != nil {
		return eris.Wrap(err, "chroma: upsert")
	}
	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return eris.Errorf("chroma: upsert unexpected status %d: %s", statusCode, string(body))
	}
	return nil
}

func (c *httpClient) Query(ctx context.Context, collectionID string, req QueryRequest) (*QueryResponse, error) {
	k := req.K
	if k <= 0 {
		k = 5
	}

	payload := map[string]any{
		"query_embeddings": [][]float32{req.Embedding},
		"n_results":        k,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if len(req.Where) > 0 {
		payload["where"] = req.Where
	}

	path := fmt.Sprintf("/api/v1/collections/%s/query", collectionID)
	body, statusCode, err := c.postJSON(ctx, path, payload)
	if err != nil {
		return nil, eris.Wrap(err, "chroma: query")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("chroma: query unexpected status %d: %s", statusCode, string(body))
	}

	// The API nests one result list per query embedding; we always send
	// exactly one.
	var raw struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float32        `json:"distances"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "chroma: unmarshal query response")
	}

	result := &QueryResponse{}
	if len(raw.IDs) > 0 {
		result.IDs = raw.IDs[0]
	}
	if len(raw.Documents) > 0 {
		result.Documents = raw.Documents[0]
	}
	if len(raw.Metadatas) > 0 {
		result.Metadatas = raw.Metadatas[0]
	}
	if len(raw.Distances) > 0 {
		result.Distances = raw.Distances[0]
	}
	return result, nil
}

func (c *httpClient) Get(ctx context.Context, collectionID string, ids []string) (*Records, error) {
	path := fmt.Sprintf("/api/v1/collections/%s/get", collectionID)
	payload := map[string]any{
		"ids":     ids,
		"include": []string{"documents", "metadatas"},
	}

	body, statusCode, err := c.postJSON(ctx, path, payload)
	if err != nil {
		return nil, eris.Wrap(err, "chroma: get")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("chroma: get unexpected status %d: %s", statusCode, string(body))
	}

	var result Records
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "chroma: unmarshal get response")
	}
	return &result, nil
}

func (c *httpClient) Count(ctx context.Context, collectionID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/collections/%s/count", c.baseURL, collectionID), nil)
	if err != nil {
		return 0, eris.Wrap(err, "chroma: create count request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "chroma: count request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, eris.Wrap(err, "chroma: read count response")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("chroma: count unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var n int
	if err := json.Unmarshal(body, &n); err != nil {
		return 0, eris.Wrap(err, "chroma: unmarshal count")
	}
	return n, nil
}
