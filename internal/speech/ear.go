package speech

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	audiotranscriber "github.com/sklyt/whisper/pkg"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Compile-time interface check.
var _ domain.Recognizer = (*Ear)(nil)

// envAnnotation matches whisper environmental annotations like
// "(keyboard clicking)", "[laughter]", "(speaking French)", etc.
var envAnnotation = regexp.MustCompile(`[\(\[][a-zA-Z][a-zA-Z\s]*[\)\]]`)

// EarOption configures the Ear.
type EarOption func(*Ear)

// WithRecordDuration sets how long each recording chunk lasts.
func WithRecordDuration(d time.Duration) EarOption {
	return func(e *Ear) { e.recordDuration = d }
}

// WithTempDir sets the directory for temporary WAV files.
func WithTempDir(dir string) EarOption {
	return func(e *Ear) { e.tempDir = dir }
}

// WithListenTimeout caps how long one session may record.
func WithListenTimeout(d time.Duration) EarOption {
	return func(e *Ear) { e.listenTimeout = d }
}

// WithSilenceChunks sets how many empty chunks end a session: before the
// user starts talking and after they have said something.
func WithSilenceChunks(before, after int) EarOption {
	return func(e *Ear) {
		e.graceEmpty = before
		e.postSpeechEmpty = after
	}
}

// Ear runs single-shot speech recognition sessions with a local Whisper
// model. A session records short chunks until the user stops talking or
// the timeout expires, then reports the combined transcript once.
type Ear struct {
	whisperBin string
	modelPath  string
	tempDir    string
	log        *logger.Logger

	recordDuration  time.Duration
	listenTimeout   time.Duration
	graceEmpty      int
	postSpeechEmpty int

	// record captures one chunk and returns its raw transcription.
	record func(ctx context.Context, d time.Duration) (string, error)
}

// NewEar creates a whisper-backed recognizer.
//
//   - whisperBin: path to the whisper-cli executable
//   - modelPath:  path to the GGML model file (a multilingual one for zh-CN)
func NewEar(whisperBin, modelPath string, log *logger.Logger, opts ...EarOption) *Ear {
	e := &Ear{
		whisperBin:      whisperBin,
		modelPath:       modelPath,
		tempDir:         ".tcmvoice-stt",
		log:             log.Named("ear"),
		recordDuration:  2 * time.Second,
		listenTimeout:   15 * time.Second,
		graceEmpty:      3,
		postSpeechEmpty: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.record = e.recordChunk
	return e
}

// Available reports whether the whisper binary can be found.
func (e *Ear) Available() bool {
	_, err := exec.LookPath(e.whisperBin)
	return err == nil
}

// Listen starts a recognition session. lang is informational: the model
// decides which languages it can transcribe.
func (e *Ear) Listen(ctx context.Context, lang string) (<-chan domain.RecognitionEvent, error) {
	if e.whisperBin == "" || e.modelPath == "" {
		return nil, fmt.Errorf("whisper not configured")
	}
	events := make(chan domain.RecognitionEvent, 4)
	go e.session(ctx, lang, events)
	return events, nil
}

func (e *Ear) session(ctx context.Context, lang string, events chan<- domain.RecognitionEvent) {
	defer close(events)
	emit := func(ev domain.RecognitionEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	e.log.Info("session started (lang=%s, chunk=%s, timeout=%s)", lang, e.recordDuration, e.listenTimeout)
	if !emit(domain.RecognitionEvent{Kind: domain.RecognitionStarted}) {
		return
	}

	deadline := time.NewTimer(e.listenTimeout)
	defer deadline.Stop()

	var parts []string
	emptyRuns := 0
	heard := false

loop:
	for {
		select {
		case <-ctx.Done():
			e.log.Debug("session cancelled")
			return
		case <-deadline.C:
			e.log.Debug("listen timeout reached")
			break loop
		default:
		}

		raw, err := e.record(ctx, e.recordDuration)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			e.log.Error("recording failed: %v", err)
			emit(domain.RecognitionEvent{Kind: domain.RecognitionFailed, Err: err})
			return
		}

		chunk := cleanTranscription(raw)
		if chunk == "" {
			emptyRuns++
			limit := e.graceEmpty
			if heard {
				limit = e.postSpeechEmpty
			}
			if emptyRuns >= limit {
				e.log.Debug("silence detected (heard_speech=%v)", heard)
				break loop
			}
			continue
		}

		emptyRuns = 0
		heard = true
		e.log.Debug("chunk: %q", chunk)
		parts = append(parts, chunk)
	}

	combined := joinChunks(parts)
	if combined != "" {
		e.log.Info("heard %q", combined)
		if !emit(domain.RecognitionEvent{Kind: domain.RecognitionTranscript, Transcript: combined}) {
			return
		}
	}
	emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
}

// joinChunks concatenates chunk transcriptions. Chinese text is joined
// without spaces; Latin fragments keep a separating space.
func joinChunks(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 && needsSpace(b.String(), p) {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return strings.TrimSpace(b.String())
}

func needsSpace(prev, next string) bool {
	pr := []rune(prev)
	nr := []rune(next)
	if len(pr) == 0 || len(nr) == 0 {
		return false
	}
	return pr[len(pr)-1] < 0x80 && nr[0] < 0x80
}

// ── Recording ────────────────────────────────────────────────────

// recordChunk does one recording cycle with the given duration and
// returns the transcribed text.
func (e *Ear) recordChunk(ctx context.Context, duration time.Duration) (string, error) {
	var result string
	var wg sync.WaitGroup
	wg.Add(1)

	callback := func(text string) {
		result = text
		wg.Done()
	}

	verbose := e.log.GetLevel() >= logger.LevelVerbose
	t, err := audiotranscriber.NewTranscriber(
		e.whisperBin,
		e.modelPath,
		e.tempDir,
		"wav",
		callback,
		verbose,
	)
	if err != nil {
		return "", fmt.Errorf("transcriber init: %w", err)
	}

	if err := t.Start(); err != nil {
		return "", fmt.Errorf("recording start: %w", err)
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
	}

	t.Stop()
	wg.Wait()

	return result, nil
}

// ── Transcription cleanup ────────────────────────────────────────

// junkPatterns are whisper artifacts stripped from anywhere in the text.
var junkPatterns = []string{
	"[BLANK_AUDIO]",
	"[BLANK AUDIO]",
	"(silence)",
	"[silence]",
	"(no speech)",
	"[no speech]",
	"[Music]",
	"(music)",
	"(typing)",
	"(breathing)",
	"(coughing)",
	"(laughing)",
	"(inaudible)",
	"(unintelligible)",
	"(音乐)",
	"[音乐]",
	"(笑声)",
	"(掌声)",
}

// hallucinations are whole transcriptions whisper invents for silence.
var hallucinations = []string{
	"...",
	"。",
	"you",
	"Thank you.",
	"Thanks for watching!",
	"谢谢观看",
	"谢谢观看。",
	"谢谢大家",
	"谢谢大家。",
	"请不吝点赞 订阅 转发 打赏支持明镜与点点栏目",
	"字幕由Amara.org社区提供",
	"中文字幕志愿者 杨茜茜",
}

// cleanTranscription strips whitespace, normalizes newlines, and removes
// common whisper artifacts like "[BLANK_AUDIO]" or "(音乐)". A transcription
// that is only a known hallucination becomes empty.
func cleanTranscription(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)

	// Strip whisper timestamp prefixes like "[00:00:00.000 --> 00:00:05.000]".
	if strings.HasPrefix(s, "[") {
		if idx := strings.Index(s, "]"); idx != -1 && strings.Contains(s[:idx], "-->") {
			s = strings.TrimSpace(s[idx+1:])
		}
	}

	for _, j := range junkPatterns {
		s = strings.ReplaceAll(s, j, "")
		s = strings.ReplaceAll(s, strings.ToLower(j), "")
		s = strings.ReplaceAll(s, strings.ToUpper(j), "")
	}

	s = envAnnotation.ReplaceAllString(s, "")
	s = collapseSpaces(s)

	lower := strings.ToLower(s)
	for _, h := range hallucinations {
		if strings.ToLower(h) == lower {
			return ""
		}
	}
	return s
}

func collapseSpaces(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}
