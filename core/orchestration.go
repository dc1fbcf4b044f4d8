package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-persona/core/avatar"
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/events"
	"github.com/koscakluka/ema-persona/core/retrieval"
	"github.com/koscakluka/ema-persona/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator runs the turns of one active scope. At most one turn is in
// flight at a time; submissions while the presentation is not idle are
// dropped.
type Orchestrator struct {
	opts       orchestratorOptions
	normalizer textNormalizer
	events     *eventQueue

	mu           sync.Mutex
	scope        conversations.Scope
	scopeCtx     context.Context
	cancelScope  context.CancelFunc
	settings     conversations.Settings
	history      []conversations.Message
	presentation presentation
	videoTimer   *time.Timer
	unsubscribe  []func()
	closed       bool

	closeOnce sync.Once
}

func NewOrchestrator(scope conversations.Scope, opts ...OrchestratorOption) (*Orchestrator, error) {
	options := defaultOrchestratorOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.messages == nil {
		return nil, errors.New("message store is required")
	}
	if options.generator == nil {
		return nil, errors.New("response generator is required")
	}

	o := &Orchestrator{
		opts:       options,
		normalizer: newTextNormalizer(options.terminalMarks, options.terminalMark),
		events:     newEventQueue(newCallbackEventEmitter(options)),
		settings:   conversations.DefaultSettings(),
	}
	o.presentation = newPresentation(scope, o.events.push)
	o.SwitchScope(scope)
	return o, nil
}

// SubmitTurn runs a turn for rawText in scope.
//
// Empty text, a busy presentation, attachments still being extracted or a
// scope other than the active one make it a no-op that returns a nil turn
// and no error. The returned turn is complete up to the point where its
// answer starts playing; playback ends through VideoEnded or the speech
// fallback.
//
// A *PersistenceError or *GenerationError ends the turn and returns the
// presentation to idle. ErrTurnDiscarded means the presentation was reset or
// the scope switched while the turn was in flight.
func (o *Orchestrator) SubmitTurn(ctx context.Context, scope conversations.Scope, rawText string) (turn *Turn, err error) {
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil, nil
	}
	if o.opts.attachment != nil && o.opts.attachment.Busy() {
		return nil, nil
	}

	o.mu.Lock()
	if o.closed || scope != o.scope {
		o.mu.Unlock()
		return nil, nil
	}
	turn = newTurn(scope, text)
	if !o.presentation.begin(turn.ID, PresentationThinking) {
		o.mu.Unlock()
		return nil, nil
	}
	o.stopVideoTimerLocked()
	settings := o.settings
	history := copyHistory(o.history)
	scopeCtx := o.scopeCtx
	o.events.push(events.NewTurnStarted(turn.ID, scope.String(), text))
	o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "submit turn", trace.WithAttributes(
		attribute.String("turn.id", turn.ID),
		attribute.String("turn.scope", scope.String()),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopCancelHook := context.AfterFunc(scopeCtx, cancel)
	defer stopCancelHook()

	attachmentContext := ""
	if o.opts.attachment != nil {
		attachmentContext = o.opts.attachment.Context()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("turn panicked: %v", recovered)
			o.abort(ctx, turn.ID, err)
		}
		if err != nil && !errors.Is(err, ErrTurnDiscarded) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var ack conversations.Ack
	err = panicSafeStep(ctx, "persist user message", func(ctx context.Context) (err error) {
		ack, err = o.opts.messages.Append(ctx, scope, conversations.Message{
			ConversationID: scope,
			Sender:         conversations.SenderUser,
			Text:           text,
			CreatedAt:      turn.StartedAt,
		})
		return err
	})
	if !o.owns(turn.ID) {
		return turn, ErrTurnDiscarded
	}
	if err != nil {
		err = &PersistenceError{Scope: scope, Sender: conversations.SenderUser, Err: err}
		o.abort(ctx, turn.ID, err)
		return turn, err
	}
	turn.UserMessageID = ack.ID

	documentContext := ""
	if o.opts.retriever != nil {
		var result retrieval.Result
		retrieveErr := panicSafeStep(ctx, "retrieve context", func(ctx context.Context) (err error) {
			result, err = o.opts.retriever.Retrieve(ctx, scope, text, o.opts.topK)
			return err
		})
		if retrieveErr != nil {
			logger.WarnContext(ctx, "context retrieval failed, continuing with fallback context",
				"scope", scope.String(), "turn_id", turn.ID, "error", retrieveErr)
		}
		documentContext = result.Text()
	}
	if !o.owns(turn.ID) {
		return turn, ErrTurnDiscarded
	}
	turn.Prompt = enrichPrompt(documentContext, attachmentContext, text)

	var answer string
	err = panicSafeStep(ctx, "generate response", func(ctx context.Context) (err error) {
		answer, err = o.opts.generator.Generate(ctx, turn.Prompt, settings, history)
		return err
	})
	if !o.owns(turn.ID) {
		return turn, ErrTurnDiscarded
	}
	if err != nil {
		err = &GenerationError{Scope: scope, Err: err}
		o.abort(ctx, turn.ID, err)
		return turn, err
	}
	turn.Answer = answer
	turn.AnsweredAt = time.Now()
	if !o.update(func(p *presentation) bool { return p.setCaption(turn.ID, answer) }) {
		return turn, ErrTurnDiscarded
	}
	o.events.push(events.NewAssistantResponseFinal(turn.ID, answer))

	rendered := o.render(ctx, turn.ID, answer, settings)
	if !o.owns(turn.ID) {
		return turn, ErrTurnDiscarded
	}
	refs := rendered.Refs()
	turn.VideoRefs = refs
	o.events.push(events.NewAvatarRendered(turn.ID, rendered.Success, refs))

	aiMessage := conversations.Message{
		ConversationID: scope,
		Sender:         conversations.SenderAI,
		Text:           answer,
		Transcript:     answer,
		VideoURLs:      refs,
		CreatedAt:      time.Now(),
	}
	if len(refs) > 0 {
		aiMessage.VideoURL = refs[0]
	}
	err = panicSafeStep(ctx, "persist ai message", func(ctx context.Context) (err error) {
		ack, err = o.opts.messages.Append(ctx, scope, aiMessage)
		return err
	})
	if !o.owns(turn.ID) {
		return turn, ErrTurnDiscarded
	}
	if err != nil {
		err = &PersistenceError{Scope: scope, Sender: conversations.SenderAI, Err: err}
		o.abort(ctx, turn.ID, err)
		return turn, err
	}
	turn.AIMessageID = ack.ID
	turn.PersistedAt = aiMessage.CreatedAt

	if rendered.Playable() {
		if !o.present(func(p *presentation) bool { return p.speakVideo(turn.ID, refs) }) {
			return turn, ErrTurnDiscarded
		}
		return turn, nil
	}

	turn.Audio = true
	if !o.present(func(p *presentation) bool { return p.speakAudio(turn.ID) }) {
		return turn, ErrTurnDiscarded
	}
	o.speak(scopeCtx, scope, turn.ID, answer, texttospeech.VoiceFromSettings(settings))
	return turn, nil
}

// render asks the avatar renderer for the answer video. Failures only mean
// there is no playable video.
func (o *Orchestrator) render(ctx context.Context, turnID string, answer string, settings conversations.Settings) avatar.Result {
	if o.opts.renderer == nil {
		return avatar.Result{}
	}

	var rendered avatar.Result
	err := panicSafeStep(ctx, "render avatar", func(ctx context.Context) (err error) {
		rendered, err = o.opts.renderer.Render(ctx, avatar.Request{
			Text:        o.normalizer.forRendering(answer),
			Language:    settings.Language,
			AvatarURL:   settings.AvatarMediaURL,
			VoiceGender: settings.VoiceGender,
		})
		return err
	})
	if err != nil {
		logger.WarnContext(ctx, "avatar rendering failed, falling back to speech",
			"turn_id", turnID, "clips", len(rendered.Refs()), "error", err)
		rendered.Success = false
	}
	return rendered
}

func (o *Orchestrator) speak(ctx context.Context, scope conversations.Scope, turnID string, text string, voice texttospeech.Voice) {
	if o.opts.speech == nil {
		logger.WarnContext(ctx, "no speech fallback configured, ending turn without audio",
			"scope", scope.String(), "turn_id", turnID)
		o.finish(turnID)
		return
	}

	o.opts.speech.Speak(ctx, text, voice, func(err error) {
		if err != nil {
			logger.WarnContext(ctx, "speech fallback failed", "scope", scope.String(), "turn_id", turnID, "error", err)
		}
		o.finish(turnID)
	})
}

// VideoEnded signals that the video of turnID finished playing. The
// presentation returns to idle after the configured delay. Signals for turns
// that no longer own the presentation are ignored.
func (o *Orchestrator) VideoEnded(turnID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current := o.presentation.current
	if !o.presentation.owns(turnID) || current.State != PresentationSpeaking || len(current.VideoRefs) == 0 {
		return
	}
	if o.videoTimer != nil {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(o.opts.videoEndDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.videoTimer == timer {
			o.videoTimer = nil
		}
		if o.presentation.finish(turnID) {
			o.events.push(events.NewTurnCompleted(turnID))
		}
	})
	o.videoTimer = timer
}

// StopSpeaking stops any speech and returns the presentation to idle. A turn
// still in flight is discarded.
func (o *Orchestrator) StopSpeaking() {
	o.mu.Lock()
	o.stopVideoTimerLocked()
	o.resetLocked(o.scope)
	o.mu.Unlock()

	if o.opts.speech != nil {
		o.opts.speech.StopAll()
	}
}

// SwitchScope makes scope the active one. Whatever was in flight for the
// previous scope is stopped and its results are discarded. Settings and
// history are reloaded from the stores.
func (o *Orchestrator) SwitchScope(scope conversations.Scope) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	previous := o.scope
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	if o.cancelScope != nil {
		o.cancelScope()
	}
	o.scopeCtx, o.cancelScope = context.WithCancel(context.Background())
	o.stopVideoTimerLocked()
	o.scope = scope
	o.settings = conversations.DefaultSettings()
	o.history = nil
	o.resetLocked(scope)
	o.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	if o.opts.speech != nil {
		o.opts.speech.StopAll()
	}
	if o.opts.attachment != nil {
		o.opts.attachment.Clear()
	}
	if o.opts.documents != nil {
		if previous != "" && previous != scope {
			o.opts.documents.Untrack(previous)
		}
		o.opts.documents.Track(scope)
	}
	o.subscribe(scope)
}

func (o *Orchestrator) subscribe(scope conversations.Scope) {
	unsubscribe := []func(){
		o.opts.messages.Subscribe(scope, func(messages []conversations.Message) {
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.scope == scope {
				o.history = copyHistory(messages)
			}
		}),
	}
	if o.opts.settings != nil {
		unsubscribe = append(unsubscribe, o.opts.settings.SubscribeSettings(scope, func(settings conversations.Settings) {
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.scope == scope {
				o.settings = settings
			}
		}))
	}

	o.mu.Lock()
	if o.scope == scope && !o.closed {
		o.unsubscribe = append(o.unsubscribe, unsubscribe...)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	for _, fn := range unsubscribe {
		fn()
	}
}

// PlayMessage replays the video of a stored AI message. It returns the id to
// pass to VideoEnded, or false when the message has no video or the
// presentation is busy.
func (o *Orchestrator) PlayMessage(message conversations.Message) (string, bool) {
	if !message.HasVideo() {
		return "", false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || (message.ConversationID != "" && message.ConversationID != o.scope) {
		return "", false
	}

	caption := message.Transcript
	if caption == "" {
		caption = message.Text
	}
	playbackID := uuid.NewString()
	if !o.presentation.play(playbackID, caption, message.VideoRefs()) {
		return "", false
	}
	o.stopVideoTimerLocked()
	return playbackID, true
}

// UpdateSettings stores settings for the active scope. The new settings are
// used from the next turn on even if storing them fails.
func (o *Orchestrator) UpdateSettings(ctx context.Context, settings conversations.Settings) error {
	o.mu.Lock()
	scope := o.scope
	o.settings = settings
	o.mu.Unlock()

	if o.opts.settings == nil {
		return nil
	}
	if err := o.opts.settings.UpdateSettings(ctx, scope, settings); err != nil {
		logger.ErrorContext(ctx, "failed to store settings", "scope", scope.String(), "error", err)
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

func (o *Orchestrator) Presentation() PresentationSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.presentation.snapshot()
}

func (o *Orchestrator) Scope() conversations.Scope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scope
}

func (o *Orchestrator) Settings() conversations.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// History returns the messages of the active scope, oldest first.
func (o *Orchestrator) History() []conversations.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyHistory(o.history)
}

// Close stops speech and subscriptions and delivers the remaining events.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		scope := o.scope
		o.stopVideoTimerLocked()
		o.resetLocked(scope)
		o.closed = true
		unsubscribe := o.unsubscribe
		o.unsubscribe = nil
		if o.cancelScope != nil {
			o.cancelScope()
		}
		o.mu.Unlock()

		for _, fn := range unsubscribe {
			fn()
		}
		if o.opts.speech != nil {
			o.opts.speech.StopAll()
		}
		if o.opts.documents != nil {
			o.opts.documents.Untrack(scope)
		}
		o.events.close()
	})
}

func (o *Orchestrator) owns(turnID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && o.presentation.owns(turnID)
}

func (o *Orchestrator) update(transition func(*presentation) bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	return transition(&o.presentation)
}

// present applies the transition that starts playback of a turn's answer and
// clears the attachments the turn consumed. A turn that no longer owns the
// presentation leaves them untouched.
func (o *Orchestrator) present(transition func(*presentation) bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || !transition(&o.presentation) {
		return false
	}
	o.clearAttachmentsLocked()
	return true
}

func (o *Orchestrator) finish(turnID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.presentation.finish(turnID) {
		o.events.push(events.NewTurnCompleted(turnID))
	}
}

func (o *Orchestrator) abort(ctx context.Context, turnID string, err error) {
	logger.ErrorContext(ctx, "turn failed", "turn_id", turnID, "error", err)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.presentation.finish(turnID) {
		o.events.push(events.NewTurnFailed(turnID, err))
		o.clearAttachmentsLocked()
	}
}

func (o *Orchestrator) clearAttachmentsLocked() {
	if o.opts.attachment != nil {
		o.opts.attachment.Clear()
	}
}

func (o *Orchestrator) resetLocked(scope conversations.Scope) {
	if interrupted := o.presentation.reset(scope); interrupted != "" {
		o.events.push(events.NewTurnCancelled(interrupted))
	}
}

func (o *Orchestrator) stopVideoTimerLocked() {
	if o.videoTimer != nil {
		o.videoTimer.Stop()
		o.videoTimer = nil
	}
}
