package llms

import (
	"context"
	"errors"
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
)

// DefaultMaxHistory is how many stored messages are sent to the model.
const DefaultMaxHistory = 20

var ErrEmptyResponse = errors.New("model returned an empty response")

// Prompter is implemented by the model backends.
type Prompter interface {
	Prompt(ctx context.Context, prompt string, opts ...PromptOption) (string, error)
}

// Generator answers an enriched prompt as the avatar persona configured by
// the scope settings.
type Generator struct {
	prompter   Prompter
	maxHistory int
}

type GeneratorOption func(*Generator)

func WithMaxHistory(n int) GeneratorOption {
	return func(g *Generator) { g.maxHistory = n }
}

func NewGenerator(prompter Prompter, opts ...GeneratorOption) *Generator {
	g := &Generator{prompter: prompter, maxHistory: DefaultMaxHistory}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Generate(ctx context.Context, prompt string, settings conversations.Settings, history []conversations.Message) (string, error) {
	answer, err := g.prompter.Prompt(ctx, prompt,
		WithInstructions(Instructions(settings)),
		WithTurns(TurnsFromHistory(history, g.maxHistory)),
	)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", ErrEmptyResponse
	}
	return answer, nil
}
