package chroma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/collections", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "products_data", req["name"])
		assert.Equal(t, true, req["get_or_create"])

		json.NewEncoder(w).Encode(map[string]string{"id": "coll-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.EnsureCollection(context.Background(), "products_data")
	require.NoError(t, err)
	assert.Equal(t, "coll-123", id)
}

func TestQuery_ParallelArraysPreserveOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/collections/coll-123/query", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 3, req["n_results"])

		json.NewEncoder(w).Encode(map[string]any{
			"ids":       [][]string{{"SKU002", "SKU001", "SKU003"}},
			"documents": [][]string{{"doc b", "doc a", "doc c"}},
			"metadatas": [][]map[string]any{{
				{"category": "tools"}, {"category": "tools"}, {"category": "seeds"},
			}},
			"distances": [][]float32{{0.1, 0.2, 0.5}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Query(context.Background(), "coll-123", QueryRequest{
		Embedding: []float32{0.1, 0.2},
		K:         3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SKU002", "SKU001", "SKU003"}, resp.IDs)
	assert.Equal(t, []string{"doc b", "doc a", "doc c"}, resp.Documents)
	require.Len(t, resp.Metadatas, 3)
	assert.Equal(t, "seeds", resp.Metadatas[2]["category"])
}

func TestQuery_WhereFilterForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		where, ok := req["where"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "tools", where["category"])

		json.NewEncoder(w).Encode(map[string]any{
			"ids": [][]string{{}}, "documents": [][]string{{}},
			"metadatas": [][]map[string]any{{}}, "distances": [][]float32{{}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Query(context.Background(), "c1", QueryRequest{
		Embedding: []float32{0.3},
		K:         5,
		Where:     map[string]any{"category": "tools"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.IDs)
}

func TestUpsert_SkipsEmpty(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.Upsert(context.Background(), "c1", Records{}))
	assert.Zero(t, calls.Load())

	require.NoError(t, c.Upsert(context.Background(), "c1", Records{
		IDs:        []string{"SKU001"},
		Embeddings: [][]float32{{0.1}},
		Documents:  []string{"doc"},
		Metadatas:  []map[string]any{{"stock": 3}},
	}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPostJSON_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "coll-retry"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.EnsureCollection(context.Background(), "products_data")
	require.NoError(t, err)
	assert.Equal(t, "coll-retry", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/collections/c9/count", r.URL.Path)
		w.Write([]byte("42"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	n, err := c.Count(context.Background(), "c9")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
