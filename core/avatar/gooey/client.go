// Package gooey renders avatar clips with the Gooey.AI lipsync TTS workflow.
package gooey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/koscakluka/ema-persona/core/avatar"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL      = "https://api.gooey.ai"
	DefaultPollInterval = 3 * time.Second
	DefaultClipTimeout  = 5 * time.Minute
	DefaultMaxClipChars = 280

	lipsyncPath = "/v3/LipsyncTTS/async/"
)

type Client struct {
	apiKey  string
	baseURL string

	httpClient   *http.Client
	pollInterval time.Duration
	clipTimeout  time.Duration
	maxClipChars int
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

func WithClipTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.clipTimeout = timeout
		}
	}
}

// WithMaxClipChars bounds the length of a single rendered clip. Longer
// answers are split at sentence boundaries.
func WithMaxClipChars(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxClipChars = n
		}
	}
}

func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gooey api key is required")
	}

	c := &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		pollInterval: DefaultPollInterval,
		clipTimeout:  DefaultClipTimeout,
		maxClipChars: DefaultMaxClipChars,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Render produces one clip per text segment. A failed clip turns the result
// unsuccessful but the clips produced before and after it are kept. Only a
// cancelled context is returned as an error.
func (c *Client) Render(ctx context.Context, request avatar.Request) (avatar.Result, error) {
	ctx, span := tracer.Start(ctx, "render avatar")
	defer span.End()

	clips := splitClips(request.Text, c.maxClipChars)
	span.SetAttributes(
		attribute.Int("request.clips", len(clips)),
		attribute.String("request.language", request.Language),
	)
	if len(clips) == 0 {
		return avatar.Result{}, nil
	}

	// One limiter per render keeps the status polling of all clips at the
	// configured pace.
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)

	result := avatar.Result{Success: true}
	for i, clip := range clips {
		ref, err := c.renderClip(ctx, limiter, clip, request)
		if err != nil {
			if ctx.Err() != nil {
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, ctx.Err().Error())
				return avatar.Result{VideoRefs: result.VideoRefs, VideoRef: result.VideoRef}, ctx.Err()
			}
			err = &avatar.RenderError{Clip: i, Err: err}
			span.RecordError(err)
			logger.Warn("avatar clip failed", "clip", i, "error", err)
			result.Success = false
			continue
		}

		result.VideoRefs = append(result.VideoRefs, ref)
		if result.VideoRef == "" {
			result.VideoRef = ref
		}
	}
	if len(result.VideoRefs) == 0 {
		result.Success = false
		span.SetStatus(codes.Error, "no clip rendered")
	}
	span.SetAttributes(attribute.Int("response.clips", len(result.VideoRefs)))

	return result, nil
}

func (c *Client) renderClip(ctx context.Context, limiter *rate.Limiter, text string, request avatar.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.clipTimeout)
	defer cancel()

	body := lipsyncRequest{
		InputFace:          request.AvatarURL,
		TextPrompt:         text,
		TTSProvider:        "GOOGLE_TTS",
		GoogleVoiceName:    voiceName(request.Language, request.VoiceGender),
		GoogleSpeakingRate: 1,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lipsyncPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var started asyncResponse
	if err := c.do(req, &started); err != nil {
		return "", err
	}
	if started.StatusURL == "" {
		return "", fmt.Errorf("gooey response is missing status url")
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, started.StatusURL, nil)
		if err != nil {
			return "", fmt.Errorf("error creating HTTP request: %w", err)
		}

		var status statusResponse
		if err := c.do(req, &status); err != nil {
			return "", err
		}

		switch status.Status {
		case statusCompleted:
			if status.Output.OutputVideo == "" {
				return "", fmt.Errorf("gooey run completed without a video")
			}
			return status.Output.OutputVideo, nil
		case statusFailed:
			return "", fmt.Errorf("gooey run failed: %s", status.Detail)
		}
	}
}

func (c *Client) do(req *http.Request, into any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, bytes.TrimSpace(errorBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("error unmarshalling JSON: %w", err)
	}
	return nil
}

type lipsyncRequest struct {
	InputFace          string  `json:"input_face,omitempty"`
	TextPrompt         string  `json:"text_prompt"`
	TTSProvider        string  `json:"tts_provider"`
	GoogleVoiceName    string  `json:"google_voice_name"`
	GoogleSpeakingRate float64 `json:"google_speaking_rate"`
}

type asyncResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
}

const (
	statusCompleted = "completed"
	statusFailed    = "failed"
)

type statusResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
	Output struct {
		OutputVideo string `json:"output_video"`
	} `json:"output"`
}
