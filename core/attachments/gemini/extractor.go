// Package gemini extracts attachment content with a multimodal Gemini model.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-persona/internal/gemini"
	"github.com/koscakluka/ema-persona/internal/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const (
	scopeName = "github.com/koscakluka/ema-persona/core/attachments/gemini"

	DefaultModel = "gemini-2.5-flash"

	extractionInstructions = "You are a document analysis and information extraction assistant. Extract ALL meaningful information from the attached file."
)

var tracer = otel.Tracer(scopeName)

type Extractor struct {
	client *genai.Client
	model  string
}

func NewExtractor(ctx context.Context, apiKey string, model string, opts ...gemini.ClientOption) (*Extractor, error) {
	client, err := gemini.NewClient(ctx, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}

	return &Extractor{client: client, model: model}, nil
}

// Extract sends the file inline next to the extraction instructions. The
// file bytes travel base64 encoded inside the request body.
func (e *Extractor) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "extract attachment")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.model", e.model),
		attribute.String("attachment.mime_type", mimeType),
		attribute.Int("attachment.size", len(data)),
	)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(extractionInstructions),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		Temperature:     utils.Ptr[float32](0.2),
		TopK:            utils.Ptr[float32](32),
		TopP:            utils.Ptr[float32](0.9),
		MaxOutputTokens: 4096,
	})
	if err != nil {
		err = fmt.Errorf("gemini extraction failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return strings.TrimSpace(resp.Text()), nil
}
