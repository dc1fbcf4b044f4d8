package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-persona/core/avatar"
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/events"
	"github.com/koscakluka/ema-persona/core/retrieval"
	"github.com/koscakluka/ema-persona/core/texttospeech"
)

const DefaultVideoEndDelay = 700 * time.Millisecond

type OrchestratorOption func(*orchestratorOptions)

type ResponseGenerator interface {
	Generate(ctx context.Context, prompt string, settings conversations.Settings, history []conversations.Message) (string, error)
}

type ContextRetriever interface {
	Retrieve(ctx context.Context, scope conversations.Scope, query string, topK int) (retrieval.Result, error)
}

// SpeechFallback plays an answer when there is no video for it. onComplete
// must be called at most once, and never for an utterance that was stopped.
type SpeechFallback interface {
	Speak(ctx context.Context, text string, voice texttospeech.Voice, onComplete func(error))
	StopAll()
}

// AttachmentSource holds the extracted attachments of the unsent turn.
type AttachmentSource interface {
	Context() string
	Busy() bool
	Clear()
}

// ScopeTracker keeps a local document snapshot of the tracked scopes.
type ScopeTracker interface {
	Track(scope conversations.Scope)
	Untrack(scope conversations.Scope)
}

type orchestratorOptions struct {
	messages   conversations.MessageStore
	settings   conversations.SettingsStore
	generator  ResponseGenerator
	retriever  ContextRetriever
	renderer   avatar.Renderer
	speech     SpeechFallback
	attachment AttachmentSource
	documents  ScopeTracker

	topK          int
	videoEndDelay time.Duration
	terminalMarks []string
	terminalMark  string

	onEvent               func(events.Event)
	onPresentationChanged func(PresentationSnapshot)
	onResponse            func(string)
	onTurnFailed          func(error)
}

func defaultOrchestratorOptions() orchestratorOptions {
	return orchestratorOptions{
		topK:          retrieval.DefaultTopK,
		videoEndDelay: DefaultVideoEndDelay,
		terminalMarks: DefaultTerminalMarks,
		terminalMark:  DefaultTerminalMark,
	}
}

func WithMessageStore(store conversations.MessageStore) OrchestratorOption {
	return func(o *orchestratorOptions) { o.messages = store }
}

func WithSettingsStore(store conversations.SettingsStore) OrchestratorOption {
	return func(o *orchestratorOptions) { o.settings = store }
}

func WithResponseGenerator(generator ResponseGenerator) OrchestratorOption {
	return func(o *orchestratorOptions) { o.generator = generator }
}

func WithRetriever(retriever ContextRetriever) OrchestratorOption {
	return func(o *orchestratorOptions) { o.retriever = retriever }
}

func WithAvatarRenderer(renderer avatar.Renderer) OrchestratorOption {
	return func(o *orchestratorOptions) { o.renderer = renderer }
}

func WithSpeechFallback(speech SpeechFallback) OrchestratorOption {
	return func(o *orchestratorOptions) { o.speech = speech }
}

func WithAttachments(source AttachmentSource) OrchestratorOption {
	return func(o *orchestratorOptions) { o.attachment = source }
}

// WithDocumentCache makes the orchestrator track the active scope in cache,
// so the retrieval fallback has documents to read.
func WithDocumentCache(cache ScopeTracker) OrchestratorOption {
	return func(o *orchestratorOptions) { o.documents = cache }
}

func WithTopK(topK int) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if topK > 0 {
			o.topK = topK
		}
	}
}

// WithVideoEndDelay sets how long the presentation keeps speaking after the
// video ended signal.
func WithVideoEndDelay(delay time.Duration) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if delay >= 0 {
			o.videoEndDelay = delay
		}
	}
}

// WithTerminalMarks sets the marks a rendered text may end with and the one
// appended when it ends with none of them.
func WithTerminalMarks(marks []string, defaultMark string) OrchestratorOption {
	return func(o *orchestratorOptions) {
		o.terminalMarks = marks
		o.terminalMark = defaultMark
	}
}

// WithEventCallback receives every event, in order, from a single goroutine.
func WithEventCallback(callback func(events.Event)) OrchestratorOption {
	return func(o *orchestratorOptions) { o.onEvent = callback }
}

func WithPresentationCallback(callback func(PresentationSnapshot)) OrchestratorOption {
	return func(o *orchestratorOptions) { o.onPresentationChanged = callback }
}

func WithResponseCallback(callback func(string)) OrchestratorOption {
	return func(o *orchestratorOptions) { o.onResponse = callback }
}

func WithTurnFailedCallback(callback func(error)) OrchestratorOption {
	return func(o *orchestratorOptions) { o.onTurnFailed = callback }
}
