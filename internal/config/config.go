// Package config loads the persona binary configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "PERSONA_"

type Config struct {
	Store        StoreConfig        `koanf:"store" json:"store"`
	Retrieval    RetrievalConfig    `koanf:"retrieval" json:"retrieval"`
	Presentation PresentationConfig `koanf:"presentation" json:"presentation"`
	Attachments  AttachmentsConfig  `koanf:"attachments" json:"attachments"`
	LLM          LLMConfig          `koanf:"llm" json:"llm"`
	Gemini       GeminiConfig       `koanf:"gemini" json:"gemini"`
	Gooey        GooeyConfig        `koanf:"gooey" json:"gooey"`
	Deepgram     DeepgramConfig     `koanf:"deepgram" json:"deepgram"`
	Audio        AudioConfig        `koanf:"audio" json:"audio"`
}

type StoreConfig struct {
	Path string `koanf:"path" json:"path" jsonschema:"description=SQLite database file"`
}

type RetrievalConfig struct {
	TopK int `koanf:"top_k" json:"top_k" jsonschema:"minimum=1"`
}

type PresentationConfig struct {
	VideoEndDelay       time.Duration `koanf:"video_end_delay" json:"video_end_delay" jsonschema:"description=Delay before returning to idle after a video ends (e.g. 700ms)"`
	TerminalMarks       []string      `koanf:"terminal_marks" json:"terminal_marks"`
	DefaultTerminalMark string        `koanf:"default_terminal_mark" json:"default_terminal_mark"`
}

type AttachmentsConfig struct {
	MaxFiles      int `koanf:"max_files" json:"max_files" jsonschema:"minimum=1"`
	MaxFileBytes  int `koanf:"max_file_bytes" json:"max_file_bytes" jsonschema:"minimum=1"`
	MaxConcurrent int `koanf:"max_concurrent" json:"max_concurrent" jsonschema:"minimum=1"`
}

type LLMConfig struct {
	Provider string `koanf:"provider" json:"provider" jsonschema:"enum=groq,enum=gemini"`
	Model    string `koanf:"model" json:"model,omitempty"`
	APIKey   string `koanf:"api_key" json:"api_key,omitempty"`
}

type GeminiConfig struct {
	APIKey          string `koanf:"api_key" json:"api_key,omitempty"`
	ExtractionModel string `koanf:"extraction_model" json:"extraction_model"`
	EmbeddingModel  string `koanf:"embedding_model" json:"embedding_model"`
}

type GooeyConfig struct {
	APIKey       string        `koanf:"api_key" json:"api_key,omitempty"`
	BaseURL      string        `koanf:"base_url" json:"base_url"`
	PollInterval time.Duration `koanf:"poll_interval" json:"poll_interval"`
}

type DeepgramConfig struct {
	APIKey string `koanf:"api_key" json:"api_key,omitempty"`
}

type AudioConfig struct {
	// Enabled plays the speech fallback on the default output device.
	// Without it speech is timed but not played.
	Enabled bool `koanf:"enabled" json:"enabled"`
}

func defaults() map[string]any {
	return map[string]any{
		"store.path":                         "persona.db",
		"retrieval.top_k":                    3,
		"presentation.video_end_delay":       "700ms",
		"presentation.terminal_marks":        []string{".", "!", "?", "।"},
		"presentation.default_terminal_mark": ".",
		"attachments.max_files":              5,
		"attachments.max_file_bytes":         5 * 1024 * 1024,
		"attachments.max_concurrent":         2,
		"llm.provider":                       "groq",
		"gemini.extraction_model":            "gemini-2.5-flash",
		"gemini.embedding_model":             "gemini-embedding-001",
		"gooey.base_url":                     "https://api.gooey.ai",
		"gooey.poll_interval":                "3s",
		"audio.enabled":                      false,
	}
}

var defaultPaths = []string{"./persona.toml", "$HOME/.config/persona/persona.toml"}

// Load reads defaults, then the TOML file at path (or the first default
// location that exists), then PERSONA_ environment variables. Nested keys in
// environment variables are separated by a double underscore, for example
// PERSONA_GOOEY__API_KEY.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		for _, candidate := range defaultPaths {
			candidate = os.ExpandEnv(candidate)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := k.Load(file.Provider(candidate), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config %s: %w", candidate, err)
			}
			break
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &config, nil
}

func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks what the chat command needs to run a turn.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "groq":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for groq")
		}
	case "gemini":
		if c.LLM.APIKey == "" && c.Gemini.APIKey == "" {
			return fmt.Errorf("llm.api_key or gemini.api_key is required for gemini")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	if c.Attachments.MaxFiles <= 0 || c.Attachments.MaxFileBytes <= 0 {
		return fmt.Errorf("attachment limits must be positive")
	}
	return nil
}

// GeminiKey is the key used for Gemini extraction and embeddings. It falls
// back to the llm key when the llm provider is Gemini.
func (c *Config) GeminiKey() string {
	if c.Gemini.APIKey != "" {
		return c.Gemini.APIKey
	}
	if c.LLM.Provider == "gemini" {
		return c.LLM.APIKey
	}
	return ""
}
