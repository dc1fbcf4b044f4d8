// Package miniaudio plays fallback speech on the default output device.
package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-persona/core/audio"
)

const sampleRate = audio.DefaultSampleRate

// Player is an audio.Output backed by a malgo playback device.
type Player struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device

	mu      sync.Mutex
	pending []byte
	marks   []playbackMark
}

type playbackMark struct {
	position int
	reached  chan struct{}
}

func NewPlayer() (*Player, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	p := &Player{audioContext: audioCtx}

	format := malgo.FormatS16
	channels := 1
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = sampleRate
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	config.Periods = 4

	if p.device, err = malgo.InitDevice(audioCtx.Context, config, malgo.DeviceCallbacks{
		Data: p.processAudio(bytesPerFrame),
	}); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := p.device.Start(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	return p, nil
}

func (p *Player) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: sampleRate, Format: audio.EncodingLinear16}
}

func (p *Player) SendAudio(chunk []byte) error {
	if p.device == nil || !p.device.IsStarted() {
		return fmt.Errorf("device not started")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, chunk...)
	return nil
}

func (p *Player) AwaitMark(ctx context.Context) error {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return nil
	}
	mark := playbackMark{position: len(p.pending), reached: make(chan struct{})}
	p.marks = append(p.marks, mark)
	p.mu.Unlock()

	select {
	case <-mark.reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) ClearBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	for _, mark := range p.marks {
		close(mark.reached)
	}
	p.marks = nil
}

func (p *Player) Close() {
	p.ClearBuffer()
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.audioContext != nil {
		_ = p.audioContext.Uninit()
		p.audioContext.Free()
		p.audioContext = nil
	}
}

func (p *Player) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		p.mu.Lock()
		defer p.mu.Unlock()

		played := copy(pOutput, p.pending)
		p.pending = p.pending[played:]
		if len(p.pending) == 0 {
			p.pending = nil
		}
		// Zero the remainder so a short buffer does not replay stale audio.
		for i := played; i < need && i < len(pOutput); i++ {
			pOutput[i] = 0
		}

		reached := 0
		for i := range p.marks {
			p.marks[i].position -= played
			if p.marks[i].position <= 0 {
				close(p.marks[i].reached)
				reached++
			}
		}
		p.marks = p.marks[reached:]
	}
}
