package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/tcmvoice/internal/command"
	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// ── Recognition ──────────────────────────────────────────────────

type recSession struct {
	ctx  context.Context
	lang string
	ch   chan domain.RecognitionEvent
	once sync.Once
}

func (s *recSession) start() { s.ch <- domain.RecognitionEvent{Kind: domain.RecognitionStarted} }

func (s *recSession) transcript(text string) {
	s.ch <- domain.RecognitionEvent{Kind: domain.RecognitionTranscript, Transcript: text}
	s.end()
}

func (s *recSession) fail(err error) {
	s.ch <- domain.RecognitionEvent{Kind: domain.RecognitionFailed, Err: err}
	s.once.Do(func() { close(s.ch) })
}

func (s *recSession) end() {
	s.once.Do(func() {
		s.ch <- domain.RecognitionEvent{Kind: domain.RecognitionEnded}
		close(s.ch)
	})
}

type fakeRecognizer struct {
	mu        sync.Mutex
	sessions  []*recSession
	autoStart bool
	startErr  error
}

func (f *fakeRecognizer) Listen(ctx context.Context, lang string) (<-chan domain.RecognitionEvent, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	s := &recSession{ctx: ctx, lang: lang, ch: make(chan domain.RecognitionEvent, 8)}
	if f.autoStart {
		s.start()
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s.ch, nil
}

func (f *fakeRecognizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeRecognizer) last(t *testing.T) *recSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		t.Fatal("no recognition session was started")
	}
	return f.sessions[len(f.sessions)-1]
}

// ── Synthesis ────────────────────────────────────────────────────

type synthSession struct {
	ctx  context.Context
	utt  domain.Utterance
	ch   chan domain.SynthesisEvent
	once sync.Once
}

func (s *synthSession) start() { s.ch <- domain.SynthesisEvent{Kind: domain.SynthesisStarted} }

func (s *synthSession) finish() {
	s.once.Do(func() {
		s.ch <- domain.SynthesisEvent{Kind: domain.SynthesisEnded}
		close(s.ch)
	})
}

func (s *synthSession) fail(err error) {
	s.once.Do(func() {
		s.ch <- domain.SynthesisEvent{Kind: domain.SynthesisFailed, Err: err}
		close(s.ch)
	})
}

type fakeSynth struct {
	mu        sync.Mutex
	sessions  []*synthSession
	autoStart bool
}

func (f *fakeSynth) Speak(ctx context.Context, u domain.Utterance) (<-chan domain.SynthesisEvent, error) {
	s := &synthSession{ctx: ctx, utt: u, ch: make(chan domain.SynthesisEvent, 8)}
	if f.autoStart {
		s.start()
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s.ch, nil
}

func (f *fakeSynth) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeSynth) at(t *testing.T, i int) *synthSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sessions) {
		t.Fatalf("utterance %d was never started (have %d)", i, len(f.sessions))
	}
	return f.sessions[i]
}

// ── Notifier ─────────────────────────────────────────────────────

type toast struct {
	msg string
	sev domain.Severity
}

type fakeNotifier struct {
	mu     sync.Mutex
	toasts []toast
}

func (n *fakeNotifier) Notify(ctx context.Context, message string, severity domain.Severity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast{message, severity})
	return nil
}

func (n *fakeNotifier) count(sev domain.Severity) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.toasts {
		if t.sev == sev {
			c++
		}
	}
	return c
}

// ── Helpers ──────────────────────────────────────────────────────

type harness struct {
	c      *Controller
	rec    *fakeRecognizer
	synth  *fakeSynth
	notes  *fakeNotifier
	router *command.Router
	cancel context.CancelFunc
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	log := logger.New(logger.LevelOff, nil)
	h := &harness{
		rec:    &fakeRecognizer{autoStart: true},
		synth:  &fakeSynth{autoStart: true},
		notes:  &fakeNotifier{},
		router: command.NewRouter(nil, log),
	}
	opts = append([]Option{WithDispatcher(h.router)}, opts...)
	h.c = New(h.rec, h.synth, h.notes, command.NewParser(log), log, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.c.Start(ctx)
	t.Cleanup(cancel)
	return h
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	var zero T
	return zero
}

func pending[T any](ch <-chan T) bool {
	select {
	case <-ch:
		return false
	default:
		return true
	}
}
