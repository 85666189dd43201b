package domain

import "errors"

// Sentinel errors used across layers.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// Voice subsystem.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrRecognition           = errors.New("speech recognition failed")
	ErrSynthesis             = errors.New("speech synthesis failed")
	ErrNoSpeech              = errors.New("no speech recognized")
	ErrAlreadyListening      = errors.New("already listening")
	ErrCancelled             = errors.New("cancelled")
	ErrSuperseded            = errors.New("superseded by a newer utterance")
	ErrClosed                = errors.New("voice controller closed")
)
