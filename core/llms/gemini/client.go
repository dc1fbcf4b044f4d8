// Package gemini prompts Gemini models through the genai SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/koscakluka/ema-persona/core/llms"
	"github.com/koscakluka/ema-persona/internal/gemini"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

const (
	scopeName = "github.com/koscakluka/ema-persona/core/llms/gemini"

	DefaultModel = "gemini-2.5-flash"
)

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

type Client struct {
	client *genai.Client
	model  string
}

func NewClient(ctx context.Context, apiKey string, model string, opts ...gemini.ClientOption) (*Client, error) {
	client, err := gemini.NewClient(ctx, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Prompt(ctx context.Context, prompt string, opts ...llms.PromptOption) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	options := llms.NewPromptOptions(opts...)

	contents := toContents(options.Turns)
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	config := &genai.GenerateContentConfig{}
	if options.Instructions != "" {
		config.SystemInstruction = genai.NewContentFromText(options.Instructions, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		err = fmt.Errorf("gemini generation failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if resp.UsageMetadata != nil {
		span.SetAttributes(
			attribute.Int("usage.input", int(resp.UsageMetadata.PromptTokenCount)),
			attribute.Int("usage.output", int(resp.UsageMetadata.CandidatesTokenCount)),
			attribute.Int("usage.total", int(resp.UsageMetadata.TotalTokenCount)),
		)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		logger.Warn("gemini returned no text", "model", c.model)
	}
	if options.Stream != nil && answer != "" {
		options.Stream(answer)
	}
	return answer, nil
}

func toContents(turns []llms.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns)+1)
	for _, turn := range turns {
		var role genai.Role = genai.RoleUser
		if turn.Role == llms.TurnRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return contents
}
