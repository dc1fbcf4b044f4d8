// Package deepgram synthesizes speech over the Deepgram streaming speak API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-persona/core/audio"
	"github.com/koscakluka/ema-persona/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultBaseURL = "wss://api.deepgram.com"

type TextToSpeechClient struct {
	apiKey  string
	baseURL string
	dialer  *websocket.Dialer
}

type ClientOption func(*TextToSpeechClient)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TextToSpeechClient) {
		c.baseURL = baseURL
	}
}

func NewTextToSpeechClient(apiKey string, opts ...ClientOption) (*TextToSpeechClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	client := &TextToSpeechClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Synthesize speaks the whole text in one Speak message followed by a Flush.
// Audio is yielded as it arrives until Deepgram confirms the flush.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, voice texttospeech.Voice, encoding audio.EncodingInfo) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		ctx, span := tracer.Start(ctx, "synthesize speech")
		defer span.End()

		model := voiceModel(voice)
		span.SetAttributes(
			attribute.String("request.model", model),
			attribute.Int("request.text_length", len(text)),
		)

		if encoding.IsZero() {
			encoding = audio.GetDefaultEncodingInfo()
		}

		conn, err := c.connect(ctx, model, encoding)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}
		defer conn.Close()

		// Closing the connection unblocks the read loop on cancellation.
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		if err := conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
			err = fmt.Errorf("failed to send text to deepgram through websocket: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		if err := conn.WriteJSON(flushMsg); err != nil {
			err = fmt.Errorf("failed to flush deepgram buffer through websocket: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		received := 0
		defer func() { span.SetAttributes(attribute.Int("response.audio_bytes", received)) }()
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				} else {
					err = fmt.Errorf("websocket read error: %w", err)
				}
				span.RecordError(err)
				yield(nil, err)
				return
			}

			switch msgType {
			case websocket.BinaryMessage:
				if len(msg) == 0 {
					continue
				}
				received += len(msg)
				if !yield(msg, nil) {
					_ = conn.WriteJSON(clearMsg)
					return
				}
			case websocket.TextMessage:
				var parsed struct {
					Type        string `json:"type"`
					Description string `json:"description"`
				}
				if err := json.Unmarshal(msg, &parsed); err != nil {
					logger.Debug("failed to unmarshal deepgram message", "error", err)
					continue
				}

				switch parsed.Type {
				case "Flushed":
					if err := conn.WriteJSON(closeMsg); err != nil {
						logger.Debug("failed to send close message to deepgram websocket", "error", err)
					}
					return
				case "Warning", "Error":
					logger.Warn("deepgram reported a problem", "type", parsed.Type, "description", parsed.Description)
					if parsed.Type == "Error" {
						err := errors.New("deepgram error: " + parsed.Description)
						span.RecordError(err)
						yield(nil, err)
						return
					}
				}
			}
		}
	}
}

func (c *TextToSpeechClient) connect(ctx context.Context, model string, encoding audio.EncodingInfo) (*websocket.Conn, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram base url: %w", err)
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encoding.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	urlValues.Set("model", model)
	urlValues.Set("container", "none")

	base.Path = strings.TrimSuffix(base.Path, "/") + "/v1/speak"
	base.RawQuery = urlValues.Encode()

	conn, _, err := c.dialer.DialContext(ctx, base.String(), http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)
