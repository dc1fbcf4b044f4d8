package orchestration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-persona/core/avatar"
	"github.com/koscakluka/ema-persona/core/conversations"
	"github.com/koscakluka/ema-persona/core/texttospeech"
)

const testScope = conversations.Scope("company_acme")

// callLog records the order in which collaborators are called.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type memoryMessageStore struct {
	log *callLog

	mu       sync.Mutex
	messages map[conversations.Scope][]conversations.Message
	subs     map[conversations.Scope]map[int]func([]conversations.Message)
	nextSub  int
	failFor  map[conversations.Sender]error
}

func newMemoryMessageStore(log *callLog) *memoryMessageStore {
	return &memoryMessageStore{
		log:      log,
		messages: map[conversations.Scope][]conversations.Message{},
		subs:     map[conversations.Scope]map[int]func([]conversations.Message){},
		failFor:  map[conversations.Sender]error{},
	}
}

func (s *memoryMessageStore) Append(_ context.Context, scope conversations.Scope, message conversations.Message) (conversations.Ack, error) {
	s.log.add("append:" + string(message.Sender))

	s.mu.Lock()
	if err := s.failFor[message.Sender]; err != nil {
		s.mu.Unlock()
		return conversations.Ack{}, err
	}
	message.ID = fmt.Sprintf("msg-%d", len(s.messages[scope])+1)
	s.messages[scope] = append(s.messages[scope], message)
	snapshot := append([]conversations.Message(nil), s.messages[scope]...)
	subs := make([]func([]conversations.Message), 0, len(s.subs[scope]))
	for _, fn := range s.subs[scope] {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return conversations.Ack{ID: message.ID, StoredAt: time.Now()}, nil
}

func (s *memoryMessageStore) Subscribe(scope conversations.Scope, onChange func([]conversations.Message)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[scope] == nil {
		s.subs[scope] = map[int]func([]conversations.Message){}
	}
	s.subs[scope][id] = onChange
	snapshot := append([]conversations.Message(nil), s.messages[scope]...)
	s.mu.Unlock()

	onChange(snapshot)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[scope], id)
	}
}

func (s *memoryMessageStore) list(scope conversations.Scope) []conversations.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversations.Message(nil), s.messages[scope]...)
}

func (s *memoryMessageStore) setFailure(sender conversations.Sender, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[sender] = err
}

type memorySettingsStore struct {
	mu       sync.Mutex
	settings map[conversations.Scope]conversations.Settings
	fail     error
}

func (s *memorySettingsStore) UpdateSettings(_ context.Context, scope conversations.Scope, settings conversations.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.settings == nil {
		s.settings = map[conversations.Scope]conversations.Settings{}
	}
	s.settings[scope] = settings
	return nil
}

func (s *memorySettingsStore) SubscribeSettings(scope conversations.Scope, onChange func(conversations.Settings)) func() {
	s.mu.Lock()
	settings, ok := s.settings[scope]
	s.mu.Unlock()
	if !ok {
		settings = conversations.DefaultSettings()
	}
	onChange(settings)
	return func() {}
}

type generatorCall struct {
	prompt   string
	settings conversations.Settings
	history  []conversations.Message
}

type fakeGenerator struct {
	log    *callLog
	answer string
	err    error
	panics bool
	// release, when set, blocks Generate until it is closed or ctx is done.
	release chan struct{}

	mu    sync.Mutex
	calls []generatorCall
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, settings conversations.Settings, history []conversations.Message) (string, error) {
	g.log.add("generate")
	g.mu.Lock()
	g.calls = append(g.calls, generatorCall{prompt: prompt, settings: settings, history: history})
	g.mu.Unlock()

	if g.panics {
		panic("generator exploded")
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.answer, g.err
}

func (g *fakeGenerator) lastCall(t *testing.T) generatorCall {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		t.Fatalf("expected generator to be called")
	}
	return g.calls[len(g.calls)-1]
}

type fakeRenderer struct {
	log    *callLog
	result avatar.Result
	err    error

	mu       sync.Mutex
	requests []avatar.Request
}

func (r *fakeRenderer) Render(_ context.Context, request avatar.Request) (avatar.Result, error) {
	r.log.add("render")
	r.mu.Lock()
	r.requests = append(r.requests, request)
	r.mu.Unlock()
	return r.result, r.err
}

func (r *fakeRenderer) lastRequest(t *testing.T) avatar.Request {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		t.Fatalf("expected renderer to be called")
	}
	return r.requests[len(r.requests)-1]
}

type speakCall struct {
	text       string
	voice      texttospeech.Voice
	onComplete func(error)
}

// fakeSpeech keeps completion callbacks so tests decide when playback ends.
type fakeSpeech struct {
	log *callLog

	mu       sync.Mutex
	calls    []speakCall
	stopAlls int
}

func (s *fakeSpeech) Speak(_ context.Context, text string, voice texttospeech.Voice, onComplete func(error)) {
	s.log.add("speak")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, speakCall{text: text, voice: voice, onComplete: onComplete})
}

func (s *fakeSpeech) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAlls++
}

func (s *fakeSpeech) speakCalls() []speakCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speakCall(nil), s.calls...)
}

func (s *fakeSpeech) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopAlls
}

type fakeAttachments struct {
	mu       sync.Mutex
	fragment string
	busy     bool
	clears   int
}

func (a *fakeAttachments) Context() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fragment
}

func (a *fakeAttachments) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

func (a *fakeAttachments) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragment = ""
	a.clears++
}

func (a *fakeAttachments) set(fragment string, busy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fragment = fragment
	a.busy = busy
}

type fixture struct {
	log       *callLog
	messages  *memoryMessageStore
	settings  *memorySettingsStore
	generator *fakeGenerator
	renderer  *fakeRenderer
	speech    *fakeSpeech
	attach    *fakeAttachments
}

func newFixture() *fixture {
	log := &callLog{}
	return &fixture{
		log:       log,
		messages:  newMemoryMessageStore(log),
		settings:  &memorySettingsStore{},
		generator: &fakeGenerator{log: log, answer: "Refunds are accepted within 30 days."},
		renderer:  &fakeRenderer{log: log, result: avatar.Result{Success: true, VideoRef: "https://cdn.test/clip-1.mp4"}},
		speech:    &fakeSpeech{log: log},
		attach:    &fakeAttachments{},
	}
}

func (f *fixture) orchestrator(t *testing.T, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()

	base := []OrchestratorOption{
		WithMessageStore(f.messages),
		WithSettingsStore(f.settings),
		WithResponseGenerator(f.generator),
		WithAvatarRenderer(f.renderer),
		WithSpeechFallback(f.speech),
		WithAttachments(f.attach),
		WithVideoEndDelay(10 * time.Millisecond),
	}
	o, err := NewOrchestrator(testScope, append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, o *Orchestrator, state PresentationState) {
	t.Helper()
	waitFor(t, fmt.Sprintf("presentation state %q", state), func() bool {
		return o.Presentation().State == state
	})
}
