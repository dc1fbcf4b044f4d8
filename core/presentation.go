package orchestration

import (
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/events"
)

type PresentationState string

const (
	PresentationIdle     PresentationState = "idle"
	PresentationThinking PresentationState = "thinking"
	PresentationSpeaking PresentationState = "speaking"
)

// PresentationSnapshot is what observers see: the state and the media that
// goes with it. Only the orchestrator produces snapshots.
type PresentationSnapshot struct {
	State   PresentationState
	Scope   conversations.Scope
	TurnID  string
	Caption string

	VideoRef  string
	VideoRefs []string
	// AudioActive is set while the speech fallback plays the answer.
	AudioActive bool
}

// IsBusy reports whether input submission must be rejected.
func (s PresentationSnapshot) IsBusy() bool {
	return s.State != PresentationIdle && s.State != ""
}

func (s PresentationSnapshot) clone() PresentationSnapshot {
	s.VideoRefs = append([]string(nil), s.VideoRefs...)
	return s
}

func (s PresentationSnapshot) event() events.PresentationChanged {
	return events.NewPresentationChanged(string(s.State), s.Scope.String(), s.TurnID, s.Caption, s.VideoRefs, s.AudioActive)
}

// presentation holds the single presentation state of an orchestrator. It is
// not safe for concurrent use on its own; the orchestrator guards it.
type presentation struct {
	current PresentationSnapshot
	emit    eventEmitter
}

func newPresentation(scope conversations.Scope, emit eventEmitter) presentation {
	return presentation{
		current: PresentationSnapshot{State: PresentationIdle, Scope: scope},
		emit:    emit,
	}
}

func (p *presentation) snapshot() PresentationSnapshot {
	return p.current.clone()
}

func (p *presentation) owns(turnID string) bool {
	return turnID != "" && p.current.TurnID == turnID && p.current.State != PresentationIdle
}

// begin moves an idle presentation to next for turnID and clears any stale
// caption and media.
func (p *presentation) begin(turnID string, next PresentationState) bool {
	if p.current.State != PresentationIdle {
		return false
	}
	p.set(PresentationSnapshot{State: next, Scope: p.current.Scope, TurnID: turnID})
	return true
}

// play starts an idle presentation directly in the speaking state with
// video, for replaying a stored answer.
func (p *presentation) play(turnID string, caption string, refs []string) bool {
	if p.current.State != PresentationIdle || len(refs) == 0 {
		return false
	}
	p.set(PresentationSnapshot{
		State:     PresentationSpeaking,
		Scope:     p.current.Scope,
		TurnID:    turnID,
		Caption:   caption,
		VideoRef:  refs[0],
		VideoRefs: append([]string(nil), refs...),
	})
	return true
}

func (p *presentation) setCaption(turnID string, caption string) bool {
	if !p.owns(turnID) {
		return false
	}
	next := p.current.clone()
	next.Caption = caption
	p.set(next)
	return true
}

func (p *presentation) speakVideo(turnID string, refs []string) bool {
	if !p.owns(turnID) || len(refs) == 0 {
		return false
	}
	next := p.current.clone()
	next.State = PresentationSpeaking
	next.VideoRef = refs[0]
	next.VideoRefs = append([]string(nil), refs...)
	next.AudioActive = false
	p.set(next)
	return true
}

func (p *presentation) speakAudio(turnID string) bool {
	if !p.owns(turnID) {
		return false
	}
	next := p.current.clone()
	next.State = PresentationSpeaking
	next.VideoRef = ""
	next.VideoRefs = nil
	next.AudioActive = true
	p.set(next)
	return true
}

// finish returns to idle if turnID still owns the presentation. Calling it
// again for the same turn does nothing.
func (p *presentation) finish(turnID string) bool {
	if !p.owns(turnID) {
		return false
	}
	p.reset(p.current.Scope)
	return true
}

// reset forces idle with no caption or media and reports the turn that was
// interrupted, if any.
func (p *presentation) reset(scope conversations.Scope) (interrupted string) {
	if p.current.State != PresentationIdle {
		interrupted = p.current.TurnID
	}
	if p.current.State == PresentationIdle && p.current.Scope == scope && p.current.Caption == "" && len(p.current.VideoRefs) == 0 {
		return interrupted
	}
	p.set(PresentationSnapshot{State: PresentationIdle, Scope: scope})
	return interrupted
}

func (p *presentation) set(next PresentationSnapshot) {
	p.current = next
	if p.emit != nil {
		p.emit(next.event())
	}
}
