package events

// KindAvatarRendered identifies the outcome of avatar rendering. A failed
// render is still reported, with Success false.
const KindAvatarRendered Kind = "avatar.rendered"

type AvatarRendered struct {
	Base
	TurnID    string
	Success   bool
	VideoRefs []string
}

func NewAvatarRendered(turnID string, success bool, videoRefs []string) AvatarRendered {
	return AvatarRendered{
		Base:      NewBase(KindAvatarRendered),
		TurnID:    turnID,
		Success:   success,
		VideoRefs: append([]string(nil), videoRefs...),
	}
}
