package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-persona/internal/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedQueryUsesRetrievalTask(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "mbedContent") {
			http.NotFound(w, r)
			return
		}
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = string(raw)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.25,0.5,1]}]}`))
	}))
	defer server.Close()

	embedder, err := NewEmbedder(context.Background(), "key", "", gemini.WithBaseURL(server.URL))
	require.NoError(t, err)

	vector, err := embedder.EmbedQuery(context.Background(), "refund policy")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 1}, vector)
	assert.Contains(t, body, "RETRIEVAL_QUERY")
	assert.Contains(t, body, "refund policy")
}

func TestEmbedFailsWithoutEmbeddings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer server.Close()

	embedder, err := NewEmbedder(context.Background(), "key", "", gemini.WithBaseURL(server.URL))
	require.NoError(t, err)

	_, err = embedder.EmbedDocument(context.Background(), "doc")
	assert.Error(t, err)
}
