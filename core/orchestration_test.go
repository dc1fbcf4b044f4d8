package orchestration

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-persona/core/audio"
	"github.com/koscakluka/ema-persona/core/avatar"
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/events"
	"github.com/koscakluka/ema-persona/core/retrieval"
	"github.com/koscakluka/ema-persona/core/speech"
	"github.com/koscakluka/ema-persona/core/texttospeech"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type vectorSearchFunc func(ctx context.Context, scope conversations.Scope, text string, topK int) ([]retrieval.Hit, error)

func (f vectorSearchFunc) Query(ctx context.Context, scope conversations.Scope, text string, topK int) ([]retrieval.Hit, error) {
	return f(ctx, scope, text, topK)
}

type staticDocumentCache struct {
	documents []conversations.Document
	listCalls atomic.Int32
}

func (c *staticDocumentCache) ListAll(conversations.Scope) []conversations.Document {
	c.listCalls.Add(1)
	return append([]conversations.Document(nil), c.documents...)
}

type loggingRetriever struct {
	log  *callLog
	next ContextRetriever
}

func (r loggingRetriever) Retrieve(ctx context.Context, scope conversations.Scope, query string, topK int) (retrieval.Result, error) {
	r.log.add("retrieve")
	return r.next.Retrieve(ctx, scope, query, topK)
}

func TestPresentationStartsIdle(t *testing.T) {
	o := newFixture().orchestrator(t)

	snapshot := o.Presentation()
	if snapshot.State != PresentationIdle || snapshot.IsBusy() {
		t.Fatalf("expected idle presentation, got %+v", snapshot)
	}
	if snapshot.Scope != testScope {
		t.Fatalf("expected scope %q, got %q", testScope, snapshot.Scope)
	}
}

func TestSubmitTurnRunsStepsInOrderAndPlaysVideo(t *testing.T) {
	f := newFixture()
	vectors := vectorSearchFunc(func(context.Context, conversations.Scope, string, int) ([]retrieval.Hit, error) {
		return []retrieval.Hit{{Text: "Refunds within 30 days", Score: 0.9}}, nil
	})
	o := f.orchestrator(t, WithRetriever(loggingRetriever{log: f.log, next: retrieval.NewRetriever(vectors, nil)}))

	turn, err := o.SubmitTurn(context.Background(), testScope, "  What is our refund policy?  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn == nil {
		t.Fatalf("expected a turn")
	}

	expected := []string{"append:user", "retrieve", "generate", "render", "append:ai"}
	if got := f.log.snapshot(); strings.Join(got, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected calls %v, got %v", expected, got)
	}

	snapshot := o.Presentation()
	if snapshot.State != PresentationSpeaking || snapshot.AudioActive {
		t.Fatalf("expected video speaking state, got %+v", snapshot)
	}
	if snapshot.VideoRef != "https://cdn.test/clip-1.mp4" || snapshot.Caption != f.generator.answer {
		t.Fatalf("unexpected presentation %+v", snapshot)
	}
	if len(f.speech.speakCalls()) != 0 {
		t.Fatalf("expected no speech fallback when video is playable")
	}

	messages := f.messages.list(testScope)
	if len(messages) != 2 {
		t.Fatalf("expected user and ai message, got %d", len(messages))
	}
	if messages[0].Text != "What is our refund policy?" {
		t.Fatalf("expected trimmed user text, got %q", messages[0].Text)
	}
	ai := messages[1]
	if ai.Sender != conversations.SenderAI || ai.Text != f.generator.answer || ai.Transcript != f.generator.answer {
		t.Fatalf("unexpected ai message %+v", ai)
	}
	if ai.VideoURL != "https://cdn.test/clip-1.mp4" {
		t.Fatalf("expected ai message to carry the video, got %+v", ai)
	}

	o.VideoEnded(turn.ID)
	if o.Presentation().State != PresentationSpeaking {
		t.Fatalf("expected presentation to stay speaking during the end delay")
	}
	waitForState(t, o, PresentationIdle)
	if snapshot := o.Presentation(); snapshot.Caption != "" || snapshot.VideoRef != "" {
		t.Fatalf("expected idle presentation to be cleared, got %+v", snapshot)
	}
}

func TestSubmitTurnIsNoopForEmptyTextOrWrongScope(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t)

	for _, submit := range []struct {
		scope conversations.Scope
		text  string
	}{
		{scope: testScope, text: ""},
		{scope: testScope, text: " \n\t "},
		{scope: "company_other", text: "hello"},
	} {
		turn, err := o.SubmitTurn(context.Background(), submit.scope, submit.text)
		if turn != nil || err != nil {
			t.Fatalf("expected silent no-op for %+v, got turn=%v err=%v", submit, turn, err)
		}
	}
	if calls := f.log.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no collaborator calls, got %v", calls)
	}
}

func TestSubmitTurnIsDroppedWhileBusy(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t)

	first, err := o.SubmitTurn(context.Background(), testScope, "first")
	if err != nil || first == nil {
		t.Fatalf("expected first turn to run, got turn=%v err=%v", first, err)
	}

	second, err := o.SubmitTurn(context.Background(), testScope, "second")
	if second != nil || err != nil {
		t.Fatalf("expected second turn to be dropped, got turn=%v err=%v", second, err)
	}
	if got := len(f.messages.list(testScope)); got != 2 {
		t.Fatalf("expected only the first turn's messages, got %d", got)
	}
}

func TestSubmitTurnIsDroppedWhileAttachmentsExtract(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t)
	f.attach.set("", true)

	turn, err := o.SubmitTurn(context.Background(), testScope, "hello")
	if turn != nil || err != nil {
		t.Fatalf("expected no-op while extracting, got turn=%v err=%v", turn, err)
	}
	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected presentation to stay idle")
	}
}

func TestUserPersistenceFailureAbortsBeforeRetrieval(t *testing.T) {
	f := newFixture()
	f.messages.setFailure(conversations.SenderUser, errors.New("store offline"))
	retrieverCalled := atomic.Bool{}
	vectors := vectorSearchFunc(func(context.Context, conversations.Scope, string, int) ([]retrieval.Hit, error) {
		retrieverCalled.Store(true)
		return nil, nil
	})
	o := f.orchestrator(t, WithRetriever(retrieval.NewRetriever(vectors, nil)))

	_, err := o.SubmitTurn(context.Background(), testScope, "hello")
	var persistenceErr *PersistenceError
	if !errors.As(err, &persistenceErr) || persistenceErr.Sender != conversations.SenderUser {
		t.Fatalf("expected user PersistenceError, got %v", err)
	}
	if retrieverCalled.Load() {
		t.Fatalf("expected no retrieval for an unrecorded message")
	}
	if calls := f.log.snapshot(); len(calls) != 1 {
		t.Fatalf("expected only the failed append, got %v", calls)
	}
	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected idle after persistence failure")
	}
}

func TestRetrievalFailureFallsBackToCachedDocuments(t *testing.T) {
	f := newFixture()
	f.generator.answer = "Refunds are accepted within 30 days of purchase."
	f.renderer.result = avatar.Result{Success: true, VideoRefs: []string{"a.mp4", "b.mp4"}}
	vectors := vectorSearchFunc(func(context.Context, conversations.Scope, string, int) ([]retrieval.Hit, error) {
		return nil, errors.New("vector backend unavailable")
	})
	cache := &staticDocumentCache{documents: []conversations.Document{
		{Title: "Refund Policy", Content: "Refunds within 30 days of purchase."},
		{Title: "Shipping", Content: "Orders ship within 2 business days."},
	}}
	o := f.orchestrator(t, WithRetriever(retrieval.NewRetriever(vectors, cache)))

	turn, err := o.SubmitTurn(context.Background(), testScope, "What is our refund policy?")
	if err != nil {
		t.Fatalf("expected retrieval failure not to fail the turn, got %v", err)
	}

	messages := f.messages.list(testScope)
	if len(messages) != 2 || messages[0].Sender != conversations.SenderUser {
		t.Fatalf("expected user then ai message, got %+v", messages)
	}

	prompt := f.generator.lastCall(t).prompt
	for _, want := range []string{"Refund Policy", "Refunds within 30 days of purchase.", "Shipping", "User query:\nWhat is our refund policy?"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected prompt to contain %q, got %q", want, prompt)
		}
	}
	if turn.Prompt != prompt {
		t.Fatalf("expected turn to keep the enriched prompt")
	}

	ai := messages[1]
	if ai.Text != f.generator.answer || len(ai.VideoURLs) != 2 || ai.VideoURL != "a.mp4" {
		t.Fatalf("unexpected ai message %+v", ai)
	}
}

func TestEmptyRetrievalNeverUsesFallback(t *testing.T) {
	f := newFixture()
	vectors := vectorSearchFunc(func(context.Context, conversations.Scope, string, int) ([]retrieval.Hit, error) {
		return nil, nil
	})
	cache := &staticDocumentCache{documents: []conversations.Document{{Title: "Unrelated", Content: "text"}}}
	o := f.orchestrator(t, WithRetriever(retrieval.NewRetriever(vectors, cache)))

	if _, err := o.SubmitTurn(context.Background(), testScope, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.listCalls.Load() != 0 {
		t.Fatalf("expected cache fallback not to be used for an empty result")
	}
	if prompt := f.generator.lastCall(t).prompt; prompt != "hello" {
		t.Fatalf("expected bare prompt without context, got %q", prompt)
	}
}

func TestGeneratorReceivesSettingsAndPriorHistory(t *testing.T) {
	f := newFixture()
	_, _ = f.messages.Append(context.Background(), testScope, conversations.Message{Sender: conversations.SenderUser, Text: "one"})
	_, _ = f.messages.Append(context.Background(), testScope, conversations.Message{Sender: conversations.SenderAI, Text: "two"})
	settings := conversations.Settings{Language: "hi", Tone: "formal", VoiceGender: conversations.VoiceGenderMale, AvatarMediaURL: "https://cdn.test/face.png"}
	_ = f.settings.UpdateSettings(context.Background(), testScope, settings)
	o := f.orchestrator(t)

	if _, err := o.SubmitTurn(context.Background(), testScope, "three"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	call := f.generator.lastCall(t)
	if call.settings != settings {
		t.Fatalf("expected stored settings, got %+v", call.settings)
	}
	if len(call.history) != 2 || call.history[0].Text != "one" || call.history[1].Text != "two" {
		t.Fatalf("expected prior history oldest first, got %+v", call.history)
	}

	request := f.renderer.lastRequest(t)
	if request.Language != "hi" || request.AvatarURL != "https://cdn.test/face.png" || request.VoiceGender != conversations.VoiceGenderMale {
		t.Fatalf("unexpected render request %+v", request)
	}
}

func TestGenerationFailureReturnsToIdleWithoutAIMessage(t *testing.T) {
	f := newFixture()
	f.generator.err = errors.New("model overloaded")
	f.attach.set("extracted pdf text", false)
	failed := make(chan error, 1)
	o := f.orchestrator(t, WithTurnFailedCallback(func(err error) { failed <- err }))

	_, err := o.SubmitTurn(context.Background(), testScope, "hello")
	var generationErr *GenerationError
	if !errors.As(err, &generationErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}

	messages := f.messages.list(testScope)
	if len(messages) != 1 || messages[0].Sender != conversations.SenderUser {
		t.Fatalf("expected only the user message, got %+v", messages)
	}
	for _, call := range f.log.snapshot() {
		if call == "render" || call == "speak" {
			t.Fatalf("expected no calls after generation failure, got %v", f.log.snapshot())
		}
	}
	if snapshot := o.Presentation(); snapshot.State != PresentationIdle || snapshot.Caption != "" {
		t.Fatalf("expected cleared idle presentation, got %+v", snapshot)
	}
	if f.attach.Context() != "" {
		t.Fatalf("expected attachments to be cleared after a failed turn")
	}

	select {
	case got := <-failed:
		if !errors.As(got, &generationErr) {
			t.Fatalf("expected failure callback with GenerationError, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for turn failed callback")
	}
}

func TestGeneratorPanicResetsToIdle(t *testing.T) {
	f := newFixture()
	f.generator.panics = true
	o := f.orchestrator(t)

	_, err := o.SubmitTurn(context.Background(), testScope, "hello")
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected idle after panic")
	}
	if got := len(f.messages.list(testScope)); got != 1 {
		t.Fatalf("expected user message to stay persisted, got %d messages", got)
	}
}

func TestAIPersistenceFailureReturnsToIdle(t *testing.T) {
	f := newFixture()
	f.messages.setFailure(conversations.SenderAI, errors.New("quota exceeded"))
	o := f.orchestrator(t)

	_, err := o.SubmitTurn(context.Background(), testScope, "hello")
	var persistenceErr *PersistenceError
	if !errors.As(err, &persistenceErr) || persistenceErr.Sender != conversations.SenderAI {
		t.Fatalf("expected ai PersistenceError, got %v", err)
	}
	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected idle after failure")
	}
}

func TestRenderFailureFallsBackToSpeechOnce(t *testing.T) {
	testCases := []struct {
		name     string
		result   avatar.Result
		err      error
		wantRefs int
	}{
		{name: "unsuccessful", result: avatar.Result{Success: false}},
		{name: "success without refs", result: avatar.Result{Success: true}},
		{name: "partial clips", result: avatar.Result{Success: false, VideoRefs: []string{"a.mp4"}}, wantRefs: 1},
		{name: "transport error", err: &avatar.RenderError{Clip: 0, Err: errors.New("402 payment required")}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			f := newFixture()
			f.renderer.result = testCase.result
			f.renderer.err = testCase.err
			o := f.orchestrator(t)

			turn, err := o.SubmitTurn(context.Background(), testScope, "hello")
			if err != nil {
				t.Fatalf("expected render failure to be absorbed, got %v", err)
			}
			if !turn.Audio {
				t.Fatalf("expected turn to use the speech fallback")
			}

			calls := f.speech.speakCalls()
			if len(calls) != 1 || calls[0].text != f.generator.answer {
				t.Fatalf("expected exactly one speak call with the answer, got %+v", calls)
			}
			snapshot := o.Presentation()
			if snapshot.State != PresentationSpeaking || !snapshot.AudioActive || snapshot.VideoRef != "" {
				t.Fatalf("expected audio speaking state, got %+v", snapshot)
			}

			ai := f.messages.list(testScope)[1]
			if len(ai.VideoRefs()) != testCase.wantRefs {
				t.Fatalf("expected %d persisted refs, got %+v", testCase.wantRefs, ai)
			}

			calls[0].onComplete(nil)
			if snapshot := o.Presentation(); snapshot.State != PresentationIdle || snapshot.AudioActive {
				t.Fatalf("expected idle after speech completion, got %+v", snapshot)
			}
		})
	}
}

func TestSpeechFailureStillReturnsToIdle(t *testing.T) {
	f := newFixture()
	f.renderer.result = avatar.Result{}
	o := f.orchestrator(t)

	if _, err := o.SubmitTurn(context.Background(), testScope, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.speech.speakCalls()[0].onComplete(errors.New("synthesis failed"))

	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected idle after speech failure")
	}
}

func TestVoiceFollowsSettings(t *testing.T) {
	f := newFixture()
	f.renderer.result = avatar.Result{}
	_ = f.settings.UpdateSettings(context.Background(), testScope, conversations.Settings{Language: "es", Tone: "calm", VoiceGender: conversations.VoiceGenderMale})
	o := f.orchestrator(t)

	if _, err := o.SubmitTurn(context.Background(), testScope, "hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := texttospeech.Voice{Tone: "calm", Gender: conversations.VoiceGenderMale, Language: "es"}
	if got := f.speech.speakCalls()[0].voice; got != want {
		t.Fatalf("expected voice %+v, got %+v", want, got)
	}
}

func TestRendererGetsNormalizedTextButTranscriptIsUnchanged(t *testing.T) {
	f := newFixture()
	f.generator.answer = "hello\n\n  world"
	o := f.orchestrator(t)

	if _, err := o.SubmitTurn(context.Background(), testScope, "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.renderer.lastRequest(t).Text; got != "hello world." {
		t.Fatalf("expected normalized render text, got %q", got)
	}
	if ai := f.messages.list(testScope)[1]; ai.Transcript != "hello\n\n  world" {
		t.Fatalf("expected raw transcript, got %q", ai.Transcript)
	}
}

func TestAttachmentContextIsMergedAndCleared(t *testing.T) {
	f := newFixture()
	vectors := vectorSearchFunc(func(context.Context, conversations.Scope, string, int) ([]retrieval.Hit, error) {
		return []retrieval.Hit{{Text: "doc text", Score: 0.5}}, nil
	})
	o := f.orchestrator(t, WithRetriever(retrieval.NewRetriever(vectors, nil)))
	f.attach.set("invoice total: 42", false)

	if _, err := o.SubmitTurn(context.Background(), testScope, "summarize"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prompt := f.generator.lastCall(t).prompt
	docAt := strings.Index(prompt, "doc text")
	attachmentAt := strings.Index(prompt, "Attached content context:\ninvoice total: 42")
	queryAt := strings.Index(prompt, "User query:\nsummarize")
	if docAt < 0 || attachmentAt < docAt || queryAt < attachmentAt {
		t.Fatalf("expected documents, attachments and query in order, got %q", prompt)
	}
	if f.attach.Context() != "" {
		t.Fatalf("expected attachments to be cleared after the turn")
	}
}

func TestSwitchScopeDiscardsInFlightTurn(t *testing.T) {
	f := newFixture()
	f.generator.release = make(chan struct{})
	o := f.orchestrator(t)

	type result struct {
		turn *Turn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		turn, err := o.SubmitTurn(context.Background(), testScope, "hello")
		done <- result{turn: turn, err: err}
	}()

	waitForState(t, o, PresentationThinking)
	waitFor(t, "generator call", func() bool {
		f.generator.mu.Lock()
		defer f.generator.mu.Unlock()
		return len(f.generator.calls) == 1
	})

	o.SwitchScope("company_other")

	select {
	case got := <-done:
		if !errors.Is(got.err, ErrTurnDiscarded) {
			t.Fatalf("expected discarded turn, got %v", got.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for discarded turn")
	}

	if got := len(f.messages.list(testScope)); got != 1 {
		t.Fatalf("expected no ai message for a discarded turn, got %d messages", got)
	}
	snapshot := o.Presentation()
	if snapshot.State != PresentationIdle || snapshot.Scope != "company_other" {
		t.Fatalf("expected idle presentation in the new scope, got %+v", snapshot)
	}
	if f.speech.stopCount() == 0 {
		t.Fatalf("expected speech to be stopped on scope switch")
	}

	if turn, err := o.SubmitTurn(context.Background(), "company_other", ""); turn != nil || err != nil {
		t.Fatalf("expected empty submission to stay a no-op")
	}
}

func TestDiscardedTurnKeepsAttachmentsOfNextTurn(t *testing.T) {
	f := newFixture()
	f.generator.release = make(chan struct{})
	f.attach.set("invoice total: 42", false)
	o := f.orchestrator(t)

	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitTurn(context.Background(), testScope, "hello")
		done <- err
	}()

	waitFor(t, "generator call", func() bool {
		f.generator.mu.Lock()
		defer f.generator.mu.Unlock()
		return len(f.generator.calls) == 1
	})
	o.StopSpeaking()
	f.attach.set("contract clause 7", false)
	close(f.generator.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrTurnDiscarded) {
			t.Fatalf("expected discarded turn, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for discarded turn")
	}

	if got := f.attach.Context(); got != "contract clause 7" {
		t.Fatalf("expected attachments of the next turn to survive, got %q", got)
	}
}

func TestStopSpeakingIgnoresLateCompletion(t *testing.T) {
	f := newFixture()
	f.renderer.result = avatar.Result{}
	var (
		mu    sync.Mutex
		kinds []events.Kind
	)
	o := f.orchestrator(t, WithEventCallback(func(event events.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, event.Kind())
	}))

	if _, err := o.SubmitTurn(context.Background(), testScope, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.StopSpeaking()
	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected idle right after stopping")
	}

	next, err := o.SubmitTurn(context.Background(), testScope, "again")
	if err != nil || next == nil {
		t.Fatalf("expected a new turn to start, got turn=%v err=%v", next, err)
	}
	f.speech.speakCalls()[0].onComplete(nil)
	if snapshot := o.Presentation(); snapshot.TurnID != next.ID || snapshot.State != PresentationSpeaking {
		t.Fatalf("expected late completion of the stopped turn to be ignored, got %+v", snapshot)
	}

	waitFor(t, "cancelled event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, kind := range kinds {
			if kind == events.KindTurnCancelled {
				return true
			}
		}
		return false
	})
}

func TestVideoEndedIgnoresStaleTurns(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t, WithVideoEndDelay(time.Hour))

	turn, err := o.SubmitTurn(context.Background(), testScope, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o.VideoEnded("some-other-turn")
	o.StopSpeaking()
	o.VideoEnded(turn.ID)
	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected idle presentation")
	}
}

func TestPlayMessageReplaysStoredVideo(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(t)

	if _, ok := o.PlayMessage(conversations.Message{Sender: conversations.SenderAI, Text: "no video"}); ok {
		t.Fatalf("expected messages without video to be rejected")
	}

	message := conversations.Message{
		ConversationID: testScope,
		Sender:         conversations.SenderAI,
		Text:           "Refunds within 30 days.",
		Transcript:     "Refunds within 30 days.",
		VideoURLs:      []string{"a.mp4", "b.mp4"},
	}
	playbackID, ok := o.PlayMessage(message)
	if !ok {
		t.Fatalf("expected replay to start")
	}
	snapshot := o.Presentation()
	if snapshot.State != PresentationSpeaking || snapshot.VideoRef != "a.mp4" || len(snapshot.VideoRefs) != 2 || snapshot.Caption != message.Transcript {
		t.Fatalf("unexpected replay presentation %+v", snapshot)
	}

	if _, ok := o.PlayMessage(message); ok {
		t.Fatalf("expected replay to be rejected while speaking")
	}
	if turn, _ := o.SubmitTurn(context.Background(), testScope, "hello"); turn != nil {
		t.Fatalf("expected submission to be dropped during replay")
	}

	o.VideoEnded(playbackID)
	waitForState(t, o, PresentationIdle)
}

func TestUpdateSettingsAppliesEvenWhenStoreFails(t *testing.T) {
	f := newFixture()
	f.settings.fail = errors.New("permission denied")
	o := f.orchestrator(t)

	settings := conversations.Settings{Language: "fr", Tone: "warm", VoiceGender: conversations.VoiceGenderFemale}
	if err := o.UpdateSettings(context.Background(), settings); err == nil {
		t.Fatalf("expected store failure to be reported")
	}
	if o.Settings() != settings {
		t.Fatalf("expected settings to be applied in memory")
	}

	if _, err := o.SubmitTurn(context.Background(), testScope, "bonjour"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.generator.lastCall(t).settings; got != settings {
		t.Fatalf("expected updated settings for the next turn, got %+v", got)
	}
}

func TestPresentationCallbackSeesOrderedTransitions(t *testing.T) {
	f := newFixture()
	f.renderer.result = avatar.Result{}
	var (
		mu     sync.Mutex
		states []PresentationState
	)
	o := f.orchestrator(t, WithPresentationCallback(func(snapshot PresentationSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != snapshot.State {
			states = append(states, snapshot.State)
		}
	}))

	if _, err := o.SubmitTurn(context.Background(), testScope, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.speech.speakCalls()[0].onComplete(nil)

	want := []PresentationState{PresentationThinking, PresentationSpeaking, PresentationIdle}
	waitFor(t, "presentation transitions", func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(states) != len(want) {
			return false
		}
		for i := range want {
			if states[i] != want[i] {
				return false
			}
		}
		return true
	})
}

func TestDocumentCacheFollowsScope(t *testing.T) {
	f := newFixture()
	tracker := &recordingTracker{}
	o := f.orchestrator(t, WithDocumentCache(tracker))

	o.SwitchScope("company_other")
	o.Close()

	want := []string{"track:company_acme", "untrack:company_acme", "track:company_other", "untrack:company_other"}
	if got := tracker.snapshot(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

type recordingTracker struct {
	callLog
}

func (r *recordingTracker) Track(scope conversations.Scope)   { r.add("track:" + scope.String()) }
func (r *recordingTracker) Untrack(scope conversations.Scope) { r.add("untrack:" + scope.String()) }

type chunkSynthesizer struct{}

func (chunkSynthesizer) Synthesize(ctx context.Context, _ string, _ texttospeech.Voice, encoding audio.EncodingInfo) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		// 20ms of audio.
		chunk := make([]byte, encoding.SampleRate/50*encoding.Format.ByteSize())
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		yield(chunk, nil)
	}
}

func TestSpeechFallbackCompletionReturnsToIdle(t *testing.T) {
	f := newFixture()
	f.renderer.result = avatar.Result{Success: false}
	fallback := speech.NewFallback(chunkSynthesizer{}, audio.NewDiscard(audio.GetDefaultEncodingInfo()))
	defer fallback.Close()
	o := f.orchestrator(t, WithSpeechFallback(fallback))

	if _, err := o.SubmitTurn(context.Background(), testScope, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, o, PresentationIdle)
}

func TestSwitchScopeStopsRealSpeechFallback(t *testing.T) {
	f := newFixture()
	f.renderer.result = avatar.Result{Success: false}
	output := audio.NewDiscard(audio.GetDefaultEncodingInfo())
	fallback := speech.NewFallback(longSynthesizer{}, output)
	defer fallback.Close()
	o := f.orchestrator(t, WithSpeechFallback(fallback))

	if _, err := o.SubmitTurn(context.Background(), testScope, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, "speech to start", fallback.Speaking)

	o.SwitchScope("company_other")
	if fallback.Speaking() {
		t.Fatalf("expected speech to stop on scope switch")
	}
	if o.Presentation().State != PresentationIdle {
		t.Fatalf("expected idle presentation")
	}
}

type longSynthesizer struct{}

func (longSynthesizer) Synthesize(_ context.Context, _ string, _ texttospeech.Voice, encoding audio.EncodingInfo) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		// A minute of audio keeps the utterance playing until it is stopped.
		yield(make([]byte, encoding.SampleRate*60*encoding.Format.ByteSize()), nil)
	}
}
