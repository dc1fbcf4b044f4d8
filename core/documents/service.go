package documents

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Indexer makes a document searchable by the vector search.
type Indexer interface {
	Upsert(ctx context.Context, scope conversations.Scope, id string, text string, metadata map[string]any) error
}

type Service struct {
	store   conversations.DocumentStore
	indexer Indexer
}

func NewService(store conversations.DocumentStore, indexer Indexer) *Service {
	return &Service{store: store, indexer: indexer}
}

// Add stores a document and then indexes it. The upload succeeds even when
// indexing fails, the document is then only reachable through the cache.
func (s *Service) Add(ctx context.Context, scope conversations.Scope, title string, content string, uploadedBy string) (conversations.Document, error) {
	ctx, span := tracer.Start(ctx, "add document")
	defer span.End()
	span.SetAttributes(attribute.String("document.scope", scope.String()))

	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return conversations.Document{}, conversations.NewValidationError("Please provide both a title and content for the document.")
	}

	doc, err := s.store.AddDocument(ctx, conversations.Document{
		Scope:      scope,
		Title:      title,
		Content:    content,
		UploadedBy: uploadedBy,
	})
	if err != nil {
		err = fmt.Errorf("failed to store document: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return conversations.Document{}, err
	}
	span.SetAttributes(attribute.String("document.id", doc.ID))

	if s.indexer != nil {
		if err := s.indexer.Upsert(ctx, scope, doc.ID, title+"\n\n"+content, map[string]any{
			"title":      title,
			"uploadedBy": uploadedBy,
		}); err != nil {
			span.RecordError(err)
			logger.Warn("failed to index document", "scope", scope.String(), "document_id", doc.ID, "error", err)
		}
	}

	return doc, nil
}
