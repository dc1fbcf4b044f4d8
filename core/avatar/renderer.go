// Package avatar describes the talking-avatar video contract used by the turn
// pipeline.
package avatar

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-persona/core/conversations"
)

type Request struct {
	// Text is the normalized answer the avatar should say.
	Text        string
	Language    string
	AvatarURL   string
	VoiceGender conversations.VoiceGender
}

// Result of a render. A render that produced no video is reported as
// Success=false, not as an error. Renderers may partially succeed, in which
// case the produced clips are still listed.
type Result struct {
	Success   bool
	VideoRef  string
	VideoRefs []string
}

// Refs returns every produced clip in playback order.
func (r Result) Refs() []string {
	if len(r.VideoRefs) > 0 {
		return append([]string(nil), r.VideoRefs...)
	}
	if r.VideoRef != "" {
		return []string{r.VideoRef}
	}
	return nil
}

// Playable reports whether the result can drive video playback.
func (r Result) Playable() bool {
	return r.Success && len(r.Refs()) > 0
}

// Renderer turns text into one or more video clips of the avatar speaking.
// Errors are reserved for transport or backend failures.
type Renderer interface {
	Render(ctx context.Context, request Request) (Result, error)
}

type RenderError struct {
	Clip int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render clip %d: %v", e.Clip, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
