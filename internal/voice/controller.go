// Package voice coordinates speech recognition and speech synthesis behind
// a single state machine.
//
// The Controller owns one VoiceState. Every mutation happens on its run
// goroutine: public methods submit a request and return once the loop has
// applied it, and platform callbacks arrive as events on one internal
// channel. Listening and speaking are mutually exclusive, and starting one
// stops the other first. Only the newest utterance is ever honored.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Option configures the Controller.
type Option func(*Controller)

// WithLang sets the locale passed to recognition and synthesis.
func WithLang(lang string) Option {
	return func(c *Controller) { c.lang = lang }
}

// WithDispatcher installs the command router used by DispatchCommand.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) { c.dispatcher = d }
}

// WithPageSource tells the controller which page is current. Transcripts
// from sessions started by Toggle are dispatched against it.
func WithPageSource(fn func() domain.PageID) Option {
	return func(c *Controller) { c.page = fn }
}

// Parser turns a transcript into candidate commands.
type Parser interface {
	Parse(transcript string) []domain.Command
}

// Dispatcher routes parsed commands for a page.
type Dispatcher interface {
	Route(ctx context.Context, page domain.PageID, cmds []domain.Command) (domain.Command, bool)
}

// ToggleAction reports what Toggle did.
type ToggleAction int

const (
	ToggleNone ToggleAction = iota
	ToggleStoppedListening
	ToggleStoppedSpeaking
	ToggleStartedListening
)

// String returns a human-readable toggle action.
func (a ToggleAction) String() string {
	switch a {
	case ToggleStoppedListening:
		return "stopped_listening"
	case ToggleStoppedSpeaking:
		return "stopped_speaking"
	case ToggleStartedListening:
		return "started_listening"
	default:
		return "none"
	}
}

// Controller is the voice interaction state machine. Construct it with New,
// then call Start before using any other method.
type Controller struct {
	rec        domain.Recognizer  // nil when recognition is unsupported
	synth      domain.Synthesizer // nil when synthesis is unsupported
	notifier   domain.Notifier
	parser     Parser
	dispatcher Dispatcher
	page       func() domain.PageID
	log        *logger.Logger
	lang       string

	reqs   chan func()
	events chan event
	done   chan struct{}
	runCtx context.Context

	// Owned by the run goroutine.
	state  domain.VoiceState
	seq    uint64
	listen *listenOp
	speak  *speakOp

	// Published copy of state for pollers.
	published atomic.Int32
}

type listenOp struct {
	seq      uint64
	cancel   context.CancelFunc
	result   chan domain.RecognitionResult
	dispatch bool // toggle-started: route the transcript as a command
}

type speakOp struct {
	seq    uint64
	cancel context.CancelFunc
	errc   chan error
	text   string
}

// event is a platform signal tagged with the session it belongs to.
type event struct {
	seq uint64
	rec *domain.RecognitionEvent
	syn *domain.SynthesisEvent
}

// New creates a voice controller. rec and synth may be nil when the platform
// lacks the capability; the controller then degrades to immediate
// ErrCapabilityUnavailable results.
func New(rec domain.Recognizer, synth domain.Synthesizer, notifier domain.Notifier, parser Parser, log *logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		rec:      rec,
		synth:    synth,
		notifier: notifier,
		parser:   parser,
		log:      log,
		lang:     domain.DefaultLang,
		page:     func() domain.PageID { return domain.PageIndex },
		reqs:     make(chan func()),
		events:   make(chan event, 16),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the controller goroutine. It reports missing platform
// capabilities once and runs until ctx is cancelled. Non-blocking.
func (c *Controller) Start(ctx context.Context) {
	c.runCtx = ctx
	if c.rec == nil {
		c.log.Warn("speech recognition unavailable")
		c.toast(MsgRecognitionUnsupported(), domain.SeverityWarning)
	}
	if c.synth == nil {
		c.log.Warn("speech synthesis unavailable")
		c.toast(MsgSynthesisUnsupported(), domain.SeverityWarning)
	}
	go c.run(ctx)
	c.log.Info("voice controller started (lang=%s)", c.lang)
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.log.Info("voice controller stopped")
			return
		case fn := <-c.reqs:
			fn()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// do runs fn on the controller goroutine and waits for it to finish.
// It returns false if the controller has stopped.
func (c *Controller) do(fn func()) bool {
	finished := make(chan struct{})
	select {
	case c.reqs <- func() { fn(); close(finished) }:
	case <-c.done:
		return false
	}
	<-finished
	return true
}

// ── Status ───────────────────────────────────────────────────────

// State returns the current voice state. Safe to call from any goroutine.
func (c *Controller) State() domain.VoiceState {
	return domain.VoiceState(c.published.Load())
}

// IsListening reports whether a recognition session is running.
func (c *Controller) IsListening() bool { return c.State() == domain.VoiceListening }

// IsSpeaking reports whether an utterance is playing.
func (c *Controller) IsSpeaking() bool { return c.State() == domain.VoiceSpeaking }

func (c *Controller) setState(s domain.VoiceState) {
	if c.state != s {
		c.log.Debug("state %s -> %s", c.state, s)
	}
	c.state = s
	c.published.Store(int32(s))
}

// ── Recognition ──────────────────────────────────────────────────

// StartListening begins a single-shot recognition session. The returned
// channel receives exactly one result. If a session is already running the
// call is a no-op and the result carries ErrAlreadyListening. Any active
// utterance is stopped first.
func (c *Controller) StartListening() <-chan domain.RecognitionResult {
	result := make(chan domain.RecognitionResult, 1)
	if !c.do(func() { c.startListening(result, false) }) {
		result <- domain.RecognitionResult{Err: domain.ErrClosed}
	}
	return result
}

// StartRecognition starts a session and hands the transcript to cb. On any
// failure cb receives an empty transcript and the error.
func (c *Controller) StartRecognition(cb func(transcript string, err error)) {
	result := c.StartListening()
	go func() {
		r := <-result
		if cb != nil {
			cb(r.Transcript, r.Err)
		}
	}()
}

// StopListening ends the running session and returns to Idle before it
// returns. The session's result carries ErrCancelled. No-op otherwise.
func (c *Controller) StopListening() {
	c.do(c.stopListening)
}

func (c *Controller) startListening(result chan domain.RecognitionResult, dispatch bool) {
	if c.rec == nil {
		result <- domain.RecognitionResult{Err: domain.ErrCapabilityUnavailable}
		return
	}
	if c.listen != nil {
		result <- domain.RecognitionResult{Err: domain.ErrAlreadyListening}
		return
	}
	if c.speak != nil {
		c.finishSpeak(domain.ErrCancelled)
	}

	c.seq++
	ctx, cancel := context.WithCancel(c.runCtx)
	events, err := c.rec.Listen(ctx, c.lang)
	if err != nil {
		cancel()
		c.log.Error("recognition start failed: %v", err)
		c.toast(MsgRecognitionError(err), domain.SeverityError)
		result <- domain.RecognitionResult{Err: fmt.Errorf("%w: %v", domain.ErrRecognition, err)}
		return
	}

	c.listen = &listenOp{seq: c.seq, cancel: cancel, result: result, dispatch: dispatch}
	c.forwardRecognition(c.seq, events)
	c.log.Debug("recognition session %d requested", c.seq)
}

func (c *Controller) stopListening() {
	if c.listen == nil {
		return
	}
	c.log.Debug("recognition session %d stopped by caller", c.listen.seq)
	c.finishListen(domain.RecognitionResult{Err: domain.ErrCancelled})
}

// finishListen tears down the running session and delivers its result.
func (c *Controller) finishListen(res domain.RecognitionResult) {
	op := c.listen
	c.listen = nil
	op.cancel()
	if c.state == domain.VoiceListening {
		c.setState(domain.VoiceIdle)
	}
	op.result <- res

	if op.dispatch && res.Err == nil {
		page := c.page()
		go c.DispatchCommand(c.runCtx, res.Transcript, page)
	}
}

// ── Synthesis ────────────────────────────────────────────────────

// SpeakOption adjusts an utterance.
type SpeakOption func(*domain.Utterance)

// WithRate sets the speaking rate (0.1 to 10, default 1).
func WithRate(rate float64) SpeakOption {
	return func(u *domain.Utterance) { u.Rate = rate }
}

// WithPitch sets the voice pitch (0 to 2, default 1).
func WithPitch(pitch float64) SpeakOption {
	return func(u *domain.Utterance) { u.Pitch = pitch }
}

// Speak plays text. The returned channel receives exactly one value: nil
// when playback completes, or the reason it did not. Empty text and
// out-of-range parameters fail with ErrInvalidInput without touching the
// state. A running session is stopped and an active utterance is cancelled
// with ErrSuperseded.
func (c *Controller) Speak(text string, opts ...SpeakOption) <-chan error {
	errc := make(chan error, 1)

	u := domain.Utterance{Text: text, Lang: c.lang, Rate: 1, Pitch: 1}
	for _, opt := range opts {
		opt(&u)
	}
	if err := validateUtterance(u); err != nil {
		errc <- err
		return errc
	}

	if !c.do(func() { c.startSpeaking(u, errc) }) {
		errc <- domain.ErrClosed
	}
	return errc
}

// StopSpeaking cancels the active utterance and returns to Idle before it
// returns. The utterance's channel receives ErrCancelled. No-op otherwise.
func (c *Controller) StopSpeaking() {
	c.do(c.stopSpeaking)
}

func validateUtterance(u domain.Utterance) error {
	if strings.TrimSpace(u.Text) == "" {
		return fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}
	if u.Rate < 0.1 || u.Rate > 10 {
		return fmt.Errorf("%w: rate %.2f out of range", domain.ErrInvalidInput, u.Rate)
	}
	if u.Pitch < 0 || u.Pitch > 2 {
		return fmt.Errorf("%w: pitch %.2f out of range", domain.ErrInvalidInput, u.Pitch)
	}
	return nil
}

func (c *Controller) startSpeaking(u domain.Utterance, errc chan error) {
	if c.synth == nil {
		errc <- domain.ErrCapabilityUnavailable
		return
	}
	if c.listen != nil {
		c.finishListen(domain.RecognitionResult{Err: domain.ErrCancelled})
	}
	if c.speak != nil {
		c.log.Debug("utterance %d superseded", c.speak.seq)
		c.finishSpeak(domain.ErrSuperseded)
	}

	c.seq++
	ctx, cancel := context.WithCancel(c.runCtx)
	events, err := c.synth.Speak(ctx, u)
	if err != nil {
		cancel()
		c.log.Error("synthesis start failed: %v", err)
		c.toast(MsgSynthesisError(err), domain.SeverityError)
		errc <- fmt.Errorf("%w: %v", domain.ErrSynthesis, err)
		return
	}

	c.speak = &speakOp{seq: c.seq, cancel: cancel, errc: errc, text: u.Text}
	c.forwardSynthesis(c.seq, events)
	c.log.Debug("utterance %d requested (rate=%.2f, pitch=%.2f): %s", c.seq, u.Rate, u.Pitch, truncate(u.Text, 40))
}

func (c *Controller) stopSpeaking() {
	if c.speak == nil {
		return
	}
	c.log.Debug("utterance %d stopped by caller", c.speak.seq)
	c.finishSpeak(domain.ErrCancelled)
}

// finishSpeak tears down the active utterance and resolves its channel.
func (c *Controller) finishSpeak(err error) {
	op := c.speak
	c.speak = nil
	op.cancel()
	if c.state == domain.VoiceSpeaking {
		c.setState(domain.VoiceIdle)
	}
	op.errc <- err
}

// ── Toggle ───────────────────────────────────────────────────────

// Toggle is the single-button entry point: stop listening if listening,
// else stop speaking if speaking, else start listening. It goes by the
// published state, so an utterance the platform has not started yet is
// replaced by the new session. A session started here dispatches its
// transcript against the current page.
func (c *Controller) Toggle() ToggleAction {
	action := ToggleNone
	c.do(func() {
		switch c.state {
		case domain.VoiceListening:
			c.stopListening()
			action = ToggleStoppedListening
		case domain.VoiceSpeaking:
			c.stopSpeaking()
			action = ToggleStoppedSpeaking
		default:
			result := make(chan domain.RecognitionResult, 1)
			c.startListening(result, true)
			if c.listen != nil {
				action = ToggleStartedListening
			}
		}
	})
	return action
}

// ── Commands ─────────────────────────────────────────────────────

// DispatchCommand parses transcript and routes it for page. A stop command
// always stops speech, whatever page is current. It reports whether any
// handler acted.
func (c *Controller) DispatchCommand(ctx context.Context, transcript string, page domain.PageID) bool {
	cmds := c.parser.Parse(transcript)
	c.log.Info("command %q on page %s", transcript, page)

	if len(cmds) > 0 && cmds[0].Kind == domain.CommandStop {
		c.StopSpeaking()
		return true
	}
	if c.dispatcher == nil {
		return false
	}
	_, ok := c.dispatcher.Route(ctx, page, cmds)
	return ok
}

// ── Platform events ──────────────────────────────────────────────

func (c *Controller) forwardRecognition(seq uint64, in <-chan domain.RecognitionEvent) {
	go func() {
		for ev := range in {
			select {
			case c.events <- event{seq: seq, rec: &ev}:
			case <-c.done:
				return
			}
		}
	}()
}

func (c *Controller) forwardSynthesis(seq uint64, in <-chan domain.SynthesisEvent) {
	go func() {
		for ev := range in {
			select {
			case c.events <- event{seq: seq, syn: &ev}:
			case <-c.done:
				return
			}
		}
	}()
}

// handle is the transition function for platform events. Events from
// sessions that are no longer current are dropped.
func (c *Controller) handle(ev event) {
	switch {
	case ev.rec != nil:
		if c.listen == nil || c.listen.seq != ev.seq {
			c.log.Debug("dropping stale recognition event from session %d", ev.seq)
			return
		}
		c.handleRecognition(*ev.rec)
	case ev.syn != nil:
		if c.speak == nil || c.speak.seq != ev.seq {
			c.log.Debug("dropping stale synthesis event from utterance %d", ev.seq)
			return
		}
		c.handleSynthesis(*ev.syn)
	}
}

func (c *Controller) handleRecognition(ev domain.RecognitionEvent) {
	switch ev.Kind {
	case domain.RecognitionStarted:
		c.setState(domain.VoiceListening)
		c.toast(MsgListening(), domain.SeverityInfo)
	case domain.RecognitionTranscript:
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			return
		}
		c.log.Info("heard %q", text)
		c.toast(MsgRecognized(text), domain.SeveritySuccess)
		c.finishListen(domain.RecognitionResult{Transcript: text})
	case domain.RecognitionFailed:
		c.log.Error("recognition error: %v", ev.Err)
		c.toast(MsgRecognitionError(ev.Err), domain.SeverityError)
		c.finishListen(domain.RecognitionResult{Err: fmt.Errorf("%w: %v", domain.ErrRecognition, ev.Err)})
	case domain.RecognitionEnded:
		c.finishListen(domain.RecognitionResult{Err: domain.ErrNoSpeech})
	}
}

func (c *Controller) handleSynthesis(ev domain.SynthesisEvent) {
	switch ev.Kind {
	case domain.SynthesisStarted:
		c.setState(domain.VoiceSpeaking)
	case domain.SynthesisEnded:
		c.log.Debug("utterance %d finished", c.speak.seq)
		c.finishSpeak(nil)
	case domain.SynthesisFailed:
		c.log.Error("synthesis error: %v", ev.Err)
		c.toast(MsgSynthesisError(ev.Err), domain.SeverityError)
		c.finishSpeak(fmt.Errorf("%w: %v", domain.ErrSynthesis, ev.Err))
	}
}

// shutdown resolves whatever is still pending when the controller stops.
func (c *Controller) shutdown() {
	if c.listen != nil {
		c.finishListen(domain.RecognitionResult{Err: domain.ErrClosed})
	}
	if c.speak != nil {
		c.finishSpeak(domain.ErrClosed)
	}
}

func (c *Controller) toast(msg string, sev domain.Severity) {
	if c.notifier == nil {
		return
	}
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.notifier.Notify(ctx, msg, sev); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("notify failed: %v", err)
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
