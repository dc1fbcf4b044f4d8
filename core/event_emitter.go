package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/events"
)

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// eventQueue delivers events to handler from a single goroutine in the order
// they were pushed. push never blocks, so it can be called with the
// orchestrator lock held.
type eventQueue struct {
	handler eventEmitter

	mu      sync.Mutex
	pending []events.Event
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newEventQueue(handler eventEmitter) *eventQueue {
	if handler == nil {
		handler = noopEventEmitter
	}
	q := &eventQueue{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(event events.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, event)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close delivers what is already queued and stops the delivery goroutine.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *eventQueue) run() {
	defer close(q.done)

	for range q.wake {
		for {
			q.mu.Lock()
			batch := q.pending
			q.pending = nil
			closed := q.closed
			q.mu.Unlock()

			for _, event := range batch {
				q.deliver(event)
			}
			if closed {
				return
			}
			if len(batch) == 0 {
				break
			}
		}
	}
}

func (q *eventQueue) deliver(event events.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("event handler panicked", "kind", string(event.Kind()), "seq", event.Sequence(), "panic", recovered)
		}
	}()
	q.handler(event)
}

// newCallbackEventEmitter routes events to the typed callbacks of opts.
func newCallbackEventEmitter(opts orchestratorOptions) eventEmitter {
	return func(event events.Event) {
		if opts.onEvent != nil {
			opts.onEvent(event)
		}

		switch typedEvent := event.(type) {
		case events.PresentationChanged:
			if opts.onPresentationChanged != nil {
				opts.onPresentationChanged(PresentationSnapshot{
					State:       PresentationState(typedEvent.State),
					Scope:       conversations.Scope(typedEvent.Scope),
					TurnID:      typedEvent.TurnID,
					Caption:     typedEvent.Caption,
					VideoRef:    firstRef(typedEvent.VideoRefs),
					VideoRefs:   typedEvent.VideoRefs,
					AudioActive: typedEvent.AudioActive,
				})
			}
		case events.AssistantResponseFinal:
			if opts.onResponse != nil {
				opts.onResponse(typedEvent.Text)
			}
		case events.TurnFailed:
			if opts.onTurnFailed != nil {
				opts.onTurnFailed(typedEvent.Err)
			}
		}
	}
}

func firstRef(refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}
