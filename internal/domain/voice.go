// Package domain defines the core types and interfaces for the TCM voice
// assistant. All other packages depend on domain; domain depends on nothing.
package domain

// VoiceState is what the voice subsystem is doing right now.
type VoiceState int

const (
	VoiceIdle VoiceState = iota
	VoiceListening
	VoiceSpeaking
)

// String returns a human-readable voice state.
func (s VoiceState) String() string {
	switch s {
	case VoiceIdle:
		return "idle"
	case VoiceListening:
		return "listening"
	case VoiceSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// DefaultLang is the locale used for both recognition and synthesis.
const DefaultLang = "zh-CN"

// Utterance is one synthesis request. Rate and Pitch follow the usual
// speech-synthesis scale where 1.0 is the voice's default.
type Utterance struct {
	Text  string
	Lang  string
	Rate  float64
	Pitch float64
}

// RecognitionResult is the outcome of one recognition session. Err is nil
// exactly when Transcript holds what the user said.
type RecognitionResult struct {
	Transcript string
	Err        error
}

// RecognitionEventKind enumerates recognition session lifecycle signals.
type RecognitionEventKind int

const (
	RecognitionStarted RecognitionEventKind = iota
	RecognitionTranscript
	RecognitionFailed
	RecognitionEnded
)

// RecognitionEvent is a lifecycle signal from a recognition session.
type RecognitionEvent struct {
	Kind       RecognitionEventKind
	Transcript string // set for RecognitionTranscript
	Err        error  // set for RecognitionFailed
}

// SynthesisEventKind enumerates utterance lifecycle signals.
type SynthesisEventKind int

const (
	SynthesisStarted SynthesisEventKind = iota
	SynthesisEnded
	SynthesisFailed
)

// SynthesisEvent is a lifecycle signal from an utterance.
type SynthesisEvent struct {
	Kind SynthesisEventKind
	Err  error // set for SynthesisFailed
}
