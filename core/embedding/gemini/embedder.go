// Package gemini embeds text with the Gemini embedding models.
package gemini

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-persona/internal/gemini"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const (
	scopeName = "github.com/koscakluka/ema-persona/core/embedding/gemini"

	DefaultModel = "gemini-embedding-001"

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

var tracer = otel.Tracer(scopeName)

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey string, model string, opts ...gemini.ClientOption) (*Embedder, error) {
	client, err := gemini.NewClient(ctx, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalDocument)
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalQuery)
}

func (e *Embedder) embed(ctx context.Context, text string, task string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embed text")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.model", e.model),
		attribute.String("request.task_type", task),
	)

	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: task},
	)
	if err != nil {
		err = fmt.Errorf("gemini embed failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		err := fmt.Errorf("no embeddings returned")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return result.Embeddings[0].Values, nil
}
