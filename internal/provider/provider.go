// Package provider defines the uniform interface over the AI transcription
// and summarization backends, plus the concrete adapters built on the OpenAI
// SDK. Backends differ in the prompt shape they consume: Whisper-style models
// accept a single free-text hint, chat-style models accept a system/user
// prompt pair. Callers pass whichever shape they have; each adapter declares
// what it accepts and mismatches are rejected up front rather than silently
// ignored.
package provider

import (
	"context"
	"fmt"
	"io"
)

// Prompt is a provider-specific prompt shape. The two concrete shapes are
// HintPrompt and PairPrompt; the interface is sealed to this package so the
// set of variants is closed.
type Prompt interface {
	shape() string
}

// HintPrompt is a single free-text hint, the shape consumed by Whisper-style
// transcription models (proper nouns, domain vocabulary, spelling hints).
type HintPrompt struct {
	Text string
}

func (HintPrompt) shape() string { return "hint" }

// PairPrompt is a system/user instruction pair, the shape consumed by
// chat-style generative backends.
type PairPrompt struct {
	System string
	User   string
}

func (PairPrompt) shape() string { return "pair" }

// TranscribeRequest carries one transcription call. Audio is an opaque byte
// stream; Filename is used only so the backend can sniff the container
// format. Language is a BCP 47 primary subtag or "" for auto-detection.
type TranscribeRequest struct {
	Audio    io.Reader
	Filename string
	MimeType string
	Language string
	Prompt   Prompt // optional; must satisfy the transcriber's Accepts
}

// TranscriptionResult is the uniform output of every transcription backend.
type TranscriptionResult struct {
	Text       string
	Language   string  // detected (or echoed) language
	Duration   float64 // seconds
	Confidence float64 // [0,1]
}

// SummarizeRequest carries one summarization call. System and User override
// the backend's default prompts when non-empty.
type SummarizeRequest struct {
	Text     string
	Language string
	System   string
	User     string
}

// SummaryResult is the structured output of a summarization backend. KeyPoints
// and ActionItems are optional; a backend that produces only free text leaves
// them nil.
type SummaryResult struct {
	Summary     string
	KeyPoints   []string
	ActionItems []string
	Language    string
	PromptUsed  string
}

// Transcriber converts audio to text.
type Transcriber interface {
	// Transcribe runs one speech-to-text call. It honors ctx for cancellation
	// and returns *Error for backend failures.
	Transcribe(ctx context.Context, req TranscribeRequest) (*TranscriptionResult, error)
	// Model returns the backend model identifier this transcriber drives.
	Model() string
	// Accepts reports whether the transcriber consumes the given prompt
	// shape. A nil prompt is always accepted.
	Accepts(p Prompt) bool
}

// Summarizer produces a structured summary from transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (*SummaryResult, error)
	Model() string
}

// Error is the failure type returned by every backend adapter. Retryable
// errors (rate limits, transient network or upstream faults) may be retried
// with backoff; non-retryable ones (bad audio, auth) must escalate
// immediately.
type Error struct {
	Retryable bool
	Message   string
	Err       error // underlying SDK/transport error, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %v", e.Message, e.Err)
	}
	return "provider: " + e.Message
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Err }

// retryableStatus reports whether an upstream HTTP status is worth retrying.
// 429 and all 5xx are transient; everything else in the 4xx range is a caller
// mistake or a hard rejection.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
