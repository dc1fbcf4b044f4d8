package events

// KindPresentationChanged identifies a presentation state transition.
const KindPresentationChanged Kind = "presentation.changed"

// PresentationChanged is a full snapshot of the presentation after a
// transition.
type PresentationChanged struct {
	Base
	State       string
	Scope       string
	TurnID      string
	Caption     string
	VideoRefs   []string
	AudioActive bool
}

func NewPresentationChanged(state string, scope string, turnID string, caption string, videoRefs []string, audioActive bool) PresentationChanged {
	return PresentationChanged{
		Base:        NewBase(KindPresentationChanged),
		State:       state,
		Scope:       scope,
		TurnID:      turnID,
		Caption:     caption,
		VideoRefs:   append([]string(nil), videoRefs...),
		AudioActive: audioActive,
	}
}
