// Package retrieval assembles supporting context for a user query.
//
// The preferred source is a vector search over the scope's indexed
// documents. When that search fails the retriever degrades to every document
// kept in the local document cache, unranked. An empty vector result is a
// valid answer and never triggers the degraded path.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTopK = 3

// Hit is a single vector search match.
type Hit struct {
	Text     string
	Score    float64
	Metadata map[string]any
}

type VectorSearch interface {
	Query(ctx context.Context, scope conversations.Scope, text string, topK int) ([]Hit, error)
}

// DocumentCache is a read-only snapshot of the scope's documents that is
// kept current elsewhere.
type DocumentCache interface {
	ListAll(scope conversations.Scope) []conversations.Document
}

var ErrVectorSearchUnavailable = errors.New("vector search not configured")

// RetrievalError reports a failed vector search. It never aborts a turn.
type RetrievalError struct {
	Scope conversations.Scope
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval for %s failed: %v", e.Scope, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

type Retriever struct {
	vectors VectorSearch
	cache   DocumentCache
}

func NewRetriever(vectors VectorSearch, cache DocumentCache) *Retriever {
	return &Retriever{vectors: vectors, cache: cache}
}

// Retrieve returns the context for query within scope.
//
// The returned error is informational: it is a *RetrievalError whenever the
// vector search failed, and the result then holds the cache fallback (which
// may be empty). Callers are expected to use the result regardless.
func (r *Retriever) Retrieve(ctx context.Context, scope conversations.Scope, query string, topK int) (Result, error) {
	ctx, span := tracer.Start(ctx, "retrieve context")
	defer span.End()

	if topK <= 0 {
		topK = DefaultTopK
	}
	span.SetAttributes(
		attribute.String("retrieval.scope", scope.String()),
		attribute.Int("retrieval.top_k", topK),
	)

	hits, err := r.queryVectors(ctx, scope, query, topK)
	if err == nil {
		result := newVectorResult(hits)
		span.SetAttributes(
			attribute.String("retrieval.source", string(result.Source)),
			attribute.Int("retrieval.items", len(result.Items)),
		)
		return result, nil
	}

	retrievalErr := &RetrievalError{Scope: scope, Err: err}
	span.RecordError(retrievalErr)
	span.SetStatus(codes.Error, retrievalErr.Error())
	logger.WarnContext(ctx, "vector search failed, falling back to cached documents",
		"scope", scope.String(), "error", err)

	var documents []conversations.Document
	if r.cache != nil {
		documents = r.cache.ListAll(scope)
	}
	result := newCacheResult(documents)
	span.SetAttributes(
		attribute.String("retrieval.source", string(result.Source)),
		attribute.Int("retrieval.items", len(result.Items)),
	)
	return result, retrievalErr
}

func (r *Retriever) queryVectors(ctx context.Context, scope conversations.Scope, query string, topK int) (hits []Hit, err error) {
	if r.vectors == nil {
		return nil, ErrVectorSearchUnavailable
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("vector search panicked: %v", recovered)
		}
	}()

	return r.vectors.Query(ctx, scope, query, topK)
}

type Source string

const (
	SourceNone          Source = "none"
	SourceVectorSearch  Source = "vector_search"
	SourceDocumentCache Source = "document_cache"
)

// ContextItem is one supporting piece of text. Items from the document cache
// carry no meaningful score.
type ContextItem struct {
	Title  string
	Text   string
	Score  float64
	Source Source
}

type Result struct {
	Items  []ContextItem
	Source Source
}

func (r Result) IsEmpty() bool { return len(r.Items) == 0 }

// Text renders the result as a prompt section. Empty results render as an
// empty string.
func (r Result) Text() string {
	if r.IsEmpty() {
		return ""
	}

	var b strings.Builder
	switch r.Source {
	case SourceVectorSearch:
		b.WriteString("Relevant Company Documents (from vector search):\n")
		for i, item := range r.Items {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[Document %d - Relevance: %.1f%%]\n%s", i+1, item.Score*100, item.Text)
		}
	case SourceDocumentCache:
		b.WriteString("Company Documents:\n")
		for i, item := range r.Items {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "%s:\n%s", item.Title, item.Text)
		}
	}
	return b.String()
}

func newVectorResult(hits []Hit) Result {
	if len(hits) == 0 {
		return Result{Source: SourceNone}
	}

	items := make([]ContextItem, 0, len(hits))
	for _, hit := range hits {
		item := ContextItem{Text: hit.Text, Score: hit.Score, Source: SourceVectorSearch}
		if title, ok := hit.Metadata["title"].(string); ok {
			item.Title = title
		}
		items = append(items, item)
	}
	// Backend order breaks ties.
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	return Result{Items: items, Source: SourceVectorSearch}
}

func newCacheResult(documents []conversations.Document) Result {
	if len(documents) == 0 {
		return Result{Source: SourceNone}
	}

	items := make([]ContextItem, 0, len(documents))
	for _, document := range documents {
		items = append(items, ContextItem{
			Title:  document.Title,
			Text:   document.Content,
			Source: SourceDocumentCache,
		})
	}
	return Result{Items: items, Source: SourceDocumentCache}
}
