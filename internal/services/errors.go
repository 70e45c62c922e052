// Package services defines the business logic of the voice-note pipeline:
// the lifecycle controller, the anonymous usage gate, and the entity usage
// tracker. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrVoiceNoteNotFound indicates that the requested voice note does not
	// exist or is not accessible to the current caller.
	ErrVoiceNoteNotFound = errors.New("voice note not found")

	// ErrEntityNotFound indicates that the requested entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrUsageNotFound indicates that the requested entity usage record does
	// not exist.
	ErrUsageNotFound = errors.New("entity usage record not found")

	// ErrSessionNotFound indicates that the anonymous session id has never
	// been seen.
	ErrSessionNotFound = errors.New("anonymous session not found")

	// ErrEmptyAudio is returned when an upload carries no payload bytes.
	ErrEmptyAudio = errors.New("audio payload is empty")

	// ErrUnsupportedMimeType is returned when the uploaded MIME type is not
	// in the accepted set.
	ErrUnsupportedMimeType = errors.New("unsupported audio MIME type")

	// ErrInvalidInput is returned for malformed or inconsistent request
	// fields (bad language tag, prompt shape the chosen backend rejects,
	// malformed session id, contradictory correction fields).
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyProcessing is returned when a second processing attempt is
	// made while one is in flight for the same voice note.
	ErrAlreadyProcessing = errors.New("voice note is already being processed")

	// ErrInvalidState is returned when an operation is not permitted in the
	// voice note's current lifecycle state.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrNoTranscription is returned when summary regeneration is requested
	// before any transcription exists.
	ErrNoTranscription = errors.New("no transcription available for this voice note")
)

// QuotaExceededError reports an anonymous session that has used up its
// upload quota. It carries the stored counter and the configured limit so
// clients can prompt sign-up with accurate numbers.
type QuotaExceededError struct {
	UsageCount int
	Limit      int
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("anonymous usage limit reached (%d/%d)", e.UsageCount, e.Limit)
}
