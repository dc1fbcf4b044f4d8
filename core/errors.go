package orchestration

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-persona/core/conversations"
)

// ErrTurnDiscarded is returned when the scope changed or the presentation was
// reset while a turn was in flight. Nothing from the turn is applied after
// that point.
var ErrTurnDiscarded = errors.New("turn discarded")

// PersistenceError means a message could not be stored. It is fatal to the
// turn.
type PersistenceError struct {
	Scope  conversations.Scope
	Sender conversations.Sender
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s message in %s: %v", e.Sender, e.Scope, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GenerationError means no answer was produced. The user message stays
// persisted and the turn ends one-sided.
type GenerationError struct {
	Scope conversations.Scope
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate response in %s: %v", e.Scope, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
