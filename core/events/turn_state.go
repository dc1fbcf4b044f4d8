package events

const (
	KindTurnStarted   Kind = "turn_state.started"
	KindTurnCompleted Kind = "turn_state.completed"
	KindTurnFailed    Kind = "turn_state.failed"
	// KindTurnCancelled identifies a turn stopped before it finished, by a
	// scope switch or an explicit stop.
	KindTurnCancelled Kind = "turn_state.cancelled"
)

type TurnStarted struct {
	Base
	TurnID string
	Scope  string
	Text   string
}

func NewTurnStarted(turnID string, scope string, text string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID, Scope: scope, Text: text}
}

// TurnCompleted is emitted when presentation of the answer has ended.
type TurnCompleted struct {
	Base
	TurnID string
}

func NewTurnCompleted(turnID string) TurnCompleted {
	return TurnCompleted{Base: NewBase(KindTurnCompleted), TurnID: turnID}
}

type TurnFailed struct {
	Base
	TurnID string
	Err    error
}

func NewTurnFailed(turnID string, err error) TurnFailed {
	return TurnFailed{Base: NewBase(KindTurnFailed), TurnID: turnID, Err: err}
}

type TurnCancelled struct {
	Base
	TurnID string
}

func NewTurnCancelled(turnID string) TurnCancelled {
	return TurnCancelled{Base: NewBase(KindTurnCancelled), TurnID: turnID}
}
