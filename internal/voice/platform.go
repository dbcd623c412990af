package voice

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMicrophoneDenied is returned when the user or OS refuses microphone access.
	ErrMicrophoneDenied = errors.New("microphone access denied")

	// ErrRecognitionUnavailable is returned when the platform cannot recognise speech.
	ErrRecognitionUnavailable = errors.New("speech recognition not supported")
)

// RecognitionError is reported by a recognizer mid-session.
type RecognitionError struct {
	Code    string
	Message string
}

func (e *RecognitionError) Error() string {
	if e.Message == "" {
		return "recognition error: " + e.Code
	}
	return fmt.Sprintf("recognition error: %s: %s", e.Code, e.Message)
}

// Platform provides the audio and speech resources the engine coordinates.
type Platform interface {
	// OpenMicrophone acquires an audio input stream. ctx bounds the
	// acquisition only, not the lifetime of the stream.
	OpenMicrophone(ctx context.Context) (Stream, error)

	// NewAudioContext creates a context able to analyse a stream.
	NewAudioContext() (AudioContext, error)

	// NewRecognizer returns the speech recognizer, or ErrRecognitionUnavailable.
	NewRecognizer() (Recognizer, error)
}

// Stream is a live audio input. Close releases the device.
type Stream interface {
	Close() error
}

// AudioContext owns audio analysis nodes.
type AudioContext interface {
	NewAnalyser(stream Stream, fftSize int) (Analyser, error)
	Close() error
}

// Analyser exposes the current frequency-domain energy of a stream.
type Analyser interface {
	FrequencyBinCount() int
	// ByteFrequencyData fills dst with per-bin energy in 0..255.
	ByteFrequencyData(dst []byte)
}

// Result is one recognition update. Transcript holds everything heard in
// the current session so far.
type Result struct {
	Transcript string
	Final      bool
	Err        error
}

// Recognizer runs continuous recognition with interim results.
type Recognizer interface {
	// Start begins a session. The returned channel is closed when the
	// session ends through Stop or ctx.
	Start(ctx context.Context, locale string) (<-chan Result, error)
	Stop() error
}

// UserMessage turns an engine error into text for the control surface.
func UserMessage(err error) string {
	var recErr *RecognitionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMicrophoneDenied):
		return "Microphone access required. Please check permissions."
	case errors.Is(err, ErrRecognitionUnavailable):
		return "Speech recognition not supported"
	case errors.As(err, &recErr):
		if recErr.Message != "" {
			return recErr.Message
		}
		return recErr.Code
	default:
		return "Failed to start voice recognition"
	}
}
