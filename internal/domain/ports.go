package domain

import "context"

// Recognizer runs single-shot speech recognition sessions.
//
// Listen starts a session and returns its event stream. The stream must be
// closed once the session is over (after RecognitionEnded or
// RecognitionFailed). Cancelling ctx aborts the session.
type Recognizer interface {
	Listen(ctx context.Context, lang string) (<-chan RecognitionEvent, error)
}

// Synthesizer plays utterances.
//
// Speak starts playback and returns its event stream, closed once playback
// is over. Cancelling ctx stops playback.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) (<-chan SynthesisEvent, error)
}

// Notifier shows short transient messages to the user.
type Notifier interface {
	Notify(ctx context.Context, message string, severity Severity) error
}

// QAClient talks to the remote question-answering service.
type QAClient interface {
	Ask(ctx context.Context, req QARequest) (*QAResponse, error)
}

// ProfileStore persists the local user profile: identity and chat history.
type ProfileStore interface {
	UserID(ctx context.Context) (string, error)
	History(ctx context.Context) ([]ChatTurn, error)
	AppendHistory(ctx context.Context, turns ...ChatTurn) error
}
