package main

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-persona/core/attachments"
	attachmentsgemini "github.com/koscakluka/ema-persona/core/attachments/gemini"
	"github.com/koscakluka/ema-persona/core/audio"
	"github.com/koscakluka/ema-persona/core/audio/miniaudio"
	"github.com/koscakluka/ema-persona/core/avatar"
	"github.com/koscakluka/ema-persona/core/avatar/gooey"
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/documents"
	embeddinggemini "github.com/koscakluka/ema-persona/core/embedding/gemini"
	"github.com/koscakluka/ema-persona/core/llms"
	llmsgemini "github.com/koscakluka/ema-persona/core/llms/gemini"
	"github.com/koscakluka/ema-persona/core/llms/groq"
	"github.com/koscakluka/ema-persona/core/speech"
	"github.com/koscakluka/ema-persona/core/store/sqlite"
	"github.com/koscakluka/ema-persona/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-persona/internal/config"
)

// app holds the configured backends of one command run.
type app struct {
	config *config.Config
	store  *sqlite.Store

	closers []func()
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a := &app{config: cfg, store: store}
	a.closers = append(a.closers, func() { _ = store.Close() })
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// vectorIndex returns nil when no embedding backend is configured.
func (a *app) vectorIndex(ctx context.Context) (*sqlite.VectorIndex, error) {
	key := a.config.GeminiKey()
	if key == "" {
		return nil, nil
	}

	embedder, err := embeddinggemini.NewEmbedder(ctx, key, a.config.Gemini.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return a.store.VectorIndex(embedder), nil
}

func (a *app) documentService(ctx context.Context) (*documents.Service, error) {
	index, err := a.vectorIndex(ctx)
	if err != nil {
		return nil, err
	}
	if index == nil {
		return documents.NewService(a.store, nil), nil
	}
	return documents.NewService(a.store, index), nil
}

func (a *app) generator(ctx context.Context) (*llms.Generator, error) {
	var prompter llms.Prompter
	switch a.config.LLM.Provider {
	case "groq":
		opts := []groq.ClientOption{}
		if a.config.LLM.Model != "" {
			opts = append(opts, groq.WithModel(a.config.LLM.Model))
		}
		client, err := groq.NewClient(a.config.LLM.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		prompter = client
	case "gemini":
		key := a.config.LLM.APIKey
		if key == "" {
			key = a.config.Gemini.APIKey
		}
		client, err := llmsgemini.NewClient(ctx, key, a.config.LLM.Model)
		if err != nil {
			return nil, err
		}
		prompter = client
	default:
		return nil, fmt.Errorf("unknown llm provider %q", a.config.LLM.Provider)
	}
	return llms.NewGenerator(prompter), nil
}

// renderer returns nil when no avatar backend is configured; every answer is
// then spoken.
func (a *app) renderer() (avatar.Renderer, error) {
	if a.config.Gooey.APIKey == "" {
		return nil, nil
	}

	client, err := gooey.NewClient(a.config.Gooey.APIKey,
		gooey.WithBaseURL(a.config.Gooey.BaseURL),
		gooey.WithPollInterval(a.config.Gooey.PollInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create avatar renderer: %w", err)
	}
	return client, nil
}

// speech plays on the default device when audio is enabled and times the
// audio without playing it otherwise.
func (a *app) speech() (*speech.Fallback, error) {
	if a.config.Deepgram.APIKey == "" {
		return nil, nil
	}

	synthesizer, err := deepgram.NewTextToSpeechClient(a.config.Deepgram.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech synthesizer: %w", err)
	}

	var output audio.Output = audio.NewDiscard(audio.GetDefaultEncodingInfo())
	if a.config.Audio.Enabled {
		player, err := miniaudio.NewPlayer()
		if err != nil {
			return nil, fmt.Errorf("failed to open audio output: %w", err)
		}
		a.closers = append(a.closers, player.Close)
		output = player
	}

	fallback := speech.NewFallback(synthesizer, output)
	a.closers = append(a.closers, fallback.Close)
	return fallback, nil
}

// ingestor returns nil when no extraction backend is configured.
func (a *app) ingestor(ctx context.Context, onProcessing func(bool)) (*attachments.Ingestor, error) {
	key := a.config.GeminiKey()
	if key == "" {
		return nil, nil
	}

	extractor, err := attachmentsgemini.NewExtractor(ctx, key, a.config.Gemini.ExtractionModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}
	return attachments.NewIngestor(extractor,
		attachments.WithMaxFiles(a.config.Attachments.MaxFiles),
		attachments.WithMaxFileBytes(a.config.Attachments.MaxFileBytes),
		attachments.WithMaxConcurrent(a.config.Attachments.MaxConcurrent),
		attachments.WithProcessingCallback(onProcessing),
	), nil
}

func resolveScope(scope string, company string) conversations.Scope {
	if company != "" {
		return conversations.CompanyScope(company)
	}
	return conversations.Scope(scope)
}
