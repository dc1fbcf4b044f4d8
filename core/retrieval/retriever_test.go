package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVectors struct {
	hits  []Hit
	err   error
	calls int
}

func (s *stubVectors) Query(_ context.Context, _ conversations.Scope, _ string, _ int) ([]Hit, error) {
	s.calls++
	return s.hits, s.err
}

type stubCache struct {
	documents []conversations.Document
	calls     int
}

func (s *stubCache) ListAll(conversations.Scope) []conversations.Document {
	s.calls++
	return s.documents
}

var testScope = conversations.CompanyScope("acme")

func TestRetrieveRanksVectorHitsByScore(t *testing.T) {
	vectors := &stubVectors{hits: []Hit{
		{Text: "low", Score: 0.2},
		{Text: "high", Score: 0.9},
		{Text: "tie-first", Score: 0.5},
		{Text: "tie-second", Score: 0.5},
	}}
	cache := &stubCache{documents: []conversations.Document{{Title: "t", Content: "c"}}}

	result, err := NewRetriever(vectors, cache).Retrieve(context.Background(), testScope, "q", 4)
	require.NoError(t, err)

	var texts []string
	for _, item := range result.Items {
		texts = append(texts, item.Text)
	}
	if diff := cmp.Diff([]string{"high", "tie-first", "tie-second", "low"}, texts); diff != "" {
		t.Fatalf("unexpected ordering (-want +got):\n%s", diff)
	}
	assert.Equal(t, SourceVectorSearch, result.Source)
	assert.Zero(t, cache.calls)
}

func TestRetrieveFormatsRelevancePercentage(t *testing.T) {
	vectors := &stubVectors{hits: []Hit{{Text: "Refunds within 30 days.", Score: 0.9234}}}

	result, err := NewRetriever(vectors, nil).Retrieve(context.Background(), testScope, "refunds", 3)
	require.NoError(t, err)

	want := "Relevant Company Documents (from vector search):\n[Document 1 - Relevance: 92.3%]\nRefunds within 30 days."
	assert.Equal(t, want, result.Text())
}

func TestRetrieveZeroHitsDoesNotFallBack(t *testing.T) {
	vectors := &stubVectors{}
	cache := &stubCache{documents: []conversations.Document{{Title: "Policy", Content: "text"}}}

	result, err := NewRetriever(vectors, cache).Retrieve(context.Background(), testScope, "q", 3)
	require.NoError(t, err)

	assert.True(t, result.IsEmpty())
	assert.Empty(t, result.Text())
	assert.Zero(t, cache.calls, "cache must not be consulted when vector search succeeds")
}

func TestRetrieveFallsBackToCacheOnError(t *testing.T) {
	backendErr := errors.New("index unavailable")
	vectors := &stubVectors{err: backendErr}
	cache := &stubCache{documents: []conversations.Document{
		{Title: "Refund policy", Content: "30 days."},
		{Title: "Shipping", Content: "Free over $50."},
	}}

	result, err := NewRetriever(vectors, cache).Retrieve(context.Background(), testScope, "q", 3)

	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, SourceDocumentCache, result.Source)
	assert.Equal(t, "Company Documents:\nRefund policy:\n30 days.\n\nShipping:\nFree over $50.", result.Text())
}

func TestRetrieveWithoutVectorsOrDocumentsIsEmpty(t *testing.T) {
	result, err := NewRetriever(nil, &stubCache{}).Retrieve(context.Background(), testScope, "q", 0)

	assert.ErrorIs(t, err, ErrVectorSearchUnavailable)
	assert.True(t, result.IsEmpty())
	assert.Equal(t, SourceNone, result.Source)
}
