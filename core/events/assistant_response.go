package events

// KindAssistantResponseFinal identifies a generated answer.
const KindAssistantResponseFinal Kind = "assistant_response.final"

type AssistantResponseFinal struct {
	Base
	TurnID string
	Text   string
}

func NewAssistantResponseFinal(turnID string, text string) AssistantResponseFinal {
	return AssistantResponseFinal{Base: NewBase(KindAssistantResponseFinal), TurnID: turnID, Text: text}
}
