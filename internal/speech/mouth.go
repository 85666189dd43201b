// Package speech provides the speech-to-text and text-to-speech backends
// behind domain.Recognizer and domain.Synthesizer.
package speech

import (
	"context"
	"errors"
	"strings"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Compile-time interface check.
var _ domain.Synthesizer = (*Mouth)(nil)

// TTS synthesizes one chunk of text to WAV bytes.
type TTS interface {
	Synthesize(ctx context.Context, text string, rate, pitch float64) ([]byte, error)
	Voice() string
}

// AudioOut plays WAV bytes, blocking until done or ctx is cancelled.
type AudioOut interface {
	Play(ctx context.Context, wav []byte) error
}

// MouthOption configures the Mouth.
type MouthOption func(*Mouth)

// WithChunkSize sets the approximate max rune count per TTS chunk.
// Text longer than this is split at sentence boundaries and synthesized
// in parallel so playback doesn't stall between sentences.
func WithChunkSize(n int) MouthOption {
	return func(m *Mouth) {
		m.chunkSize = n
	}
}

// WithCacheDir sets the filesystem directory used for persistent audio
// caching. If empty, the disk layer is disabled (pure in-memory).
func WithCacheDir(dir string) MouthOption {
	return func(m *Mouth) {
		m.cacheDir = dir
	}
}

// WithDiskWrite controls whether new cache entries are written to disk.
// Even when false, existing on-disk entries are still read.
func WithDiskWrite(enabled bool) MouthOption {
	return func(m *Mouth) {
		m.diskWrite = enabled
	}
}

// Mouth plays utterances: chunk, synthesize (parallel), play (sequential).
// It does not arbitrate between callers; the voice controller cancels the
// previous utterance's context before starting a new one.
type Mouth struct {
	tts    TTS
	player AudioOut
	log    *logger.Logger
	cache  *AudioCache

	chunkSize int
	cacheDir  string
	diskWrite bool
}

// NewMouth creates a synthesis backend with the given TTS client and player.
func NewMouth(tts TTS, player AudioOut, log *logger.Logger, opts ...MouthOption) *Mouth {
	m := &Mouth{
		tts:       tts,
		player:    player,
		log:       log.Named("mouth"),
		chunkSize: 80,
		diskWrite: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = NewAudioCache(tts.Voice(), m.cacheDir, m.diskWrite, log)
	return m
}

// Speak starts playing u and returns its lifecycle events. SynthesisStarted
// is sent when the first chunk begins to play. Cancelling ctx stops playback
// and closes the stream without a final event.
func (m *Mouth) Speak(ctx context.Context, u domain.Utterance) (<-chan domain.SynthesisEvent, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil, domain.ErrInvalidInput
	}
	events := make(chan domain.SynthesisEvent, 3)
	go m.process(ctx, text, u.Rate, u.Pitch, events)
	return events, nil
}

func (m *Mouth) process(ctx context.Context, text string, rate, pitch float64, events chan<- domain.SynthesisEvent) {
	defer close(events)
	emit := func(ev domain.SynthesisEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	chunks := m.splitChunks(text)
	m.log.Debug("speaking %d chunk(s): %s", len(chunks), truncateForLog(text, 60))

	// Fire all synthesis requests in parallel, using cache. Each chunk gets
	// its own slot so playback can start as soon as the first one is ready.
	type result struct {
		audio []byte
		err   error
	}
	slots := make([]chan result, len(chunks))
	for i, chunk := range chunks {
		slots[i] = make(chan result, 1)
		go func(slot chan<- result, text string) {
			audio, err := m.synthesizeWithCache(ctx, text, rate, pitch)
			slot <- result{audio: audio, err: err}
		}(slots[i], chunk)
	}

	started := false
	for i, slot := range slots {
		var r result
		select {
		case r = <-slot:
		case <-ctx.Done():
			return
		}
		if r.err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Error("chunk %d synthesis failed: %v", i, r.err)
			emit(domain.SynthesisEvent{Kind: domain.SynthesisFailed, Err: r.err})
			return
		}

		if !started {
			started = true
			emit(domain.SynthesisEvent{Kind: domain.SynthesisStarted})
		}
		if err := m.player.Play(ctx, r.audio); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			m.log.Error("chunk %d playback failed: %v", i, err)
			emit(domain.SynthesisEvent{Kind: domain.SynthesisFailed, Err: err})
			return
		}
	}
	hits, misses := m.cache.Stats()
	m.log.Debug("utterance done (cache hits=%d misses=%d)", hits, misses)
	emit(domain.SynthesisEvent{Kind: domain.SynthesisEnded})
}

// synthesizeWithCache checks the cache first, otherwise calls the TTS client
// and stores the result. Thread-safe.
func (m *Mouth) synthesizeWithCache(ctx context.Context, text string, rate, pitch float64) ([]byte, error) {
	if audio, ok := m.cache.Get(text, rate, pitch); ok {
		return audio, nil
	}
	audio, err := m.tts.Synthesize(ctx, text, rate, pitch)
	if err != nil {
		return nil, err
	}
	m.cache.Put(text, rate, pitch, audio)
	return audio, nil
}

// Prefetch pre-synthesizes texts at the default prosody in background
// goroutines so a later Speak starts instantly. Non-blocking.
func (m *Mouth) Prefetch(ctx context.Context, texts ...string) {
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		for _, chunk := range m.splitChunks(text) {
			if m.cache.Has(chunk, 1, 1) {
				continue
			}
			go func(t string) {
				if _, err := m.synthesizeWithCache(ctx, t, 1, 1); err != nil {
					m.log.Warn("prefetch failed: %v", err)
				}
			}(chunk)
		}
	}
}

// splitChunks breaks text into sentence-boundary chunks of approximately
// m.chunkSize runes. If chunkSize is 0 or the text is short, it returns the
// text as-is in a single slice.
func (m *Mouth) splitChunks(text string) []string {
	if m.chunkSize <= 0 || len([]rune(text)) <= m.chunkSize {
		return []string{text}
	}

	var chunks []string
	var current []rune
	for _, s := range splitSentences(text) {
		sr := []rune(s)
		if len(current) > 0 && len(current)+len(sr) > m.chunkSize {
			chunks = append(chunks, strings.TrimSpace(string(current)))
			current = current[:0]
		}
		current = append(current, sr...)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.TrimSpace(string(current)))
	}

	out := chunks[:0]
	for _, c := range chunks {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// splitSentences splits text after sentence-ending punctuation, keeping the
// punctuation (and any trailing space) attached to the preceding sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if isSentenceEnd(runes[i]) {
			for i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n' || isSentenceEnd(runes[i+1])) {
				i++
				current.WriteRune(runes[i])
			}
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '.', '!', '?':
		return true
	}
	return false
}
