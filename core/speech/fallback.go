// Package speech plays answers with a synthesized voice when no avatar video
// is available.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/koscakluka/ema-persona/core/audio"
	"github.com/koscakluka/ema-persona/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Fallback speaks one text at a time. Starting a new utterance pre-empts the
// current one, and a pre-empted or stopped utterance never reports
// completion.
type Fallback struct {
	synth  texttospeech.Synthesizer
	output audio.Output

	mu      sync.Mutex
	current *utterance
	wg      sync.WaitGroup
}

type utterance struct {
	cancel  context.CancelFunc
	stopped bool
}

func NewFallback(synth texttospeech.Synthesizer, output audio.Output) *Fallback {
	return &Fallback{synth: synth, output: output}
}

// Speak starts speaking text and returns immediately. onComplete is called
// exactly once with the playback error (nil on success), unless the
// utterance is pre-empted or stopped first, in which case it is never called.
func (f *Fallback) Speak(ctx context.Context, text string, voice texttospeech.Voice, onComplete func(error)) {
	f.mu.Lock()
	f.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	u := &utterance{cancel: cancel}
	f.current = u
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		defer cancel()

		err := f.play(ctx, text, voice)

		f.mu.Lock()
		report := !u.stopped && ctx.Err() == nil
		if f.current == u {
			f.current = nil
		}
		f.mu.Unlock()

		if report && onComplete != nil {
			onComplete(err)
		}
	}()
}

func (f *Fallback) play(ctx context.Context, text string, voice texttospeech.Voice) (err error) {
	ctx, span := tracer.Start(ctx, "speak fallback")
	defer span.End()
	span.SetAttributes(attribute.Int("request.text_length", len(text)))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speech playback panicked: %v", r)
		}
		if err != nil && ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if strings.TrimSpace(text) == "" {
		return nil
	}
	if f.synth == nil || f.output == nil {
		return fmt.Errorf("speech fallback is not configured")
	}

	for chunk, err := range f.synth.Synthesize(ctx, text, voice, f.output.EncodingInfo()) {
		if err != nil {
			return fmt.Errorf("failed to synthesize speech: %w", err)
		}
		if err := f.output.SendAudio(chunk); err != nil {
			return fmt.Errorf("failed to play speech: %w", err)
		}
	}

	return f.output.AwaitMark(ctx)
}

// StopAll stops the current utterance. Its completion callback is not called.
func (f *Fallback) StopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
}

func (f *Fallback) stopLocked() {
	if f.current == nil {
		return
	}
	f.current.stopped = true
	f.current.cancel()
	f.current = nil
	if f.output != nil {
		f.output.ClearBuffer()
	}
}

// Speaking reports whether an utterance is in progress.
func (f *Fallback) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

// Close stops speaking and waits for all playback goroutines to exit.
func (f *Fallback) Close() {
	f.StopAll()
	f.wg.Wait()
}
