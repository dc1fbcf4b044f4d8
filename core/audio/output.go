// Package audio defines how synthesized speech reaches a playback device.
package audio

import (
	"context"
	"sync"
	"time"
)

// Output plays raw audio in the order it is sent.
type Output interface {
	EncodingInfo() EncodingInfo
	SendAudio(audio []byte) error
	// AwaitMark blocks until everything sent so far has been played, the
	// buffer was cleared or ctx is done.
	AwaitMark(ctx context.Context) error
	// ClearBuffer drops all audio that has not been played yet.
	ClearBuffer()
}

// Discard is an Output without a device. It keeps track of how long the
// received audio would play and lets AwaitMark wait for that long.
type Discard struct {
	encoding EncodingInfo

	mu          sync.Mutex
	playedUntil time.Time
	cleared     chan struct{}
}

func NewDiscard(encoding EncodingInfo) *Discard {
	if encoding.IsZero() {
		encoding = GetDefaultEncodingInfo()
	}
	return &Discard{encoding: encoding, cleared: make(chan struct{})}
}

func (d *Discard) EncodingInfo() EncodingInfo { return d.encoding }

func (d *Discard) SendAudio(audio []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.playedUntil.Before(now) {
		d.playedUntil = now
	}
	d.playedUntil = d.playedUntil.Add(d.encoding.Duration(len(audio)))
	return nil
}

func (d *Discard) AwaitMark(ctx context.Context) error {
	d.mu.Lock()
	wait := time.Until(d.playedUntil)
	cleared := d.cleared
	d.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-cleared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Discard) ClearBuffer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playedUntil = time.Time{}
	close(d.cleared)
	d.cleared = make(chan struct{})
}
