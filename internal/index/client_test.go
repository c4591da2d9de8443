package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/medsearch-ai/orchestrator/internal/models"
)

func TestClient_LexicalSearch(t *testing.T) {
	var gotPath string
	var gotReq searchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(searchResponse{Hits: []Document{
			{ID: "pmid-1", Score: 0.9, Title: "Metformin outcomes"},
			{ID: "pmid-2", Score: 1.7, Title: "Out of range score"},
			{ID: "pmid-3", Score: -0.1, Title: "Negative score"},
		}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	hits, err := c.Lexical(context.Background(), "research_articles", "metformin", &models.Filters{YearFrom: 2020}, 5)
	require.NoError(t, err)

	assert.Equal(t, "/collections/research_articles/search/lexical", gotPath)
	assert.Equal(t, "metformin", gotReq.Query)
	assert.Equal(t, 5, gotReq.TopK)
	require.NotNil(t, gotReq.Filter)
	assert.Equal(t, 2020, gotReq.Filter.YearFrom)

	require.Len(t, hits, 3)
	assert.Equal(t, 0.9, hits[0].Score)
	assert.Equal(t, 1.0, hits[1].Score, "scores clamp to 1")
	assert.Equal(t, 0.0, hits[2].Score, "scores clamp to 0")
}

func TestClient_VectorSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Vector, 3)
		assert.Empty(t, req.Query)
		_ = json.NewEncoder(w).Encode(searchResponse{Hits: []Document{{ID: "nct-1", Score: 0.75}}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	hits, err := c.Vector(context.Background(), "clinical_trials", []float32{0.1, 0.2, 0.3}, nil, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "nct-1", hits[0].ID)
}

func TestClient_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := c.Lexical(context.Background(), "research_articles", "q", nil, 5)
	assert.Error(t, err)
}
