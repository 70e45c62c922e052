// Whisper-style transcription over the OpenAI audio API.
//
// The same adapter serves OpenAI and OpenRouter deployments: OpenRouter
// exposes the identical /audio/transcriptions surface under its own base URL
// with an "openai/"-prefixed model name, so the difference collapses into
// client configuration.
package provider

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperConfig configures a WhisperTranscriber.
type WhisperConfig struct {
	APIKey  string
	BaseURL string        // "" keeps the SDK default (api.openai.com)
	Model   string        // e.g. "whisper-1", "gpt-4o-transcribe"
	Timeout time.Duration // per-call HTTP timeout; 0 disables
}

// WhisperTranscriber drives the OpenAI speech-to-text endpoint. It consumes
// the free-text hint prompt shape; a system/user pair is flattened into the
// single prompt field the endpoint understands, so both shapes are accepted.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

// NewWhisperTranscriber builds a transcriber from config. The base URL
// selects the deployment (OpenAI, OpenRouter, or any compatible proxy).
func NewWhisperTranscriber(cfg WhisperConfig) *WhisperTranscriber {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &WhisperTranscriber{
		client: openai.NewClientWithConfig(cc),
		model:  cfg.Model,
	}
}

// Model returns the configured model identifier.
func (t *WhisperTranscriber) Model() string { return t.model }

// Accepts reports the prompt shapes this backend understands. Both shapes
// are accepted: the pair is flattened into the endpoint's single prompt
// field.
func (t *WhisperTranscriber) Accepts(p Prompt) bool {
	switch p.(type) {
	case nil, HintPrompt, PairPrompt:
		return true
	default:
		return false
	}
}

// Transcribe runs one speech-to-text call with verbose JSON output so that
// duration, detected language, and segment log-probabilities are available.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, req TranscribeRequest) (*TranscriptionResult, error) {
	ar := openai.AudioRequest{
		Model:    t.model,
		Reader:   req.Audio,
		FilePath: req.Filename, // used by the SDK to name the multipart, the bytes come from Reader
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if req.Language != "" && req.Language != "auto" {
		ar.Language = req.Language
	}
	switch p := req.Prompt.(type) {
	case HintPrompt:
		ar.Prompt = p.Text
	case PairPrompt:
		ar.Prompt = joinPair(p)
	}

	resp, err := t.client.CreateTranscription(ctx, ar)
	if err != nil {
		return nil, classify("transcription failed", err)
	}

	lang := resp.Language
	if lang == "" {
		lang = req.Language
	}
	logprobs := make([]float64, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		logprobs = append(logprobs, seg.AvgLogprob)
	}
	return &TranscriptionResult{
		Text:       resp.Text,
		Language:   lang,
		Duration:   resp.Duration,
		Confidence: segmentConfidence(logprobs),
	}, nil
}

// joinPair flattens a system/user pair into the single hint field consumed by
// the audio endpoint. The system instruction leads so the model sees it first.
func joinPair(p PairPrompt) string {
	switch {
	case p.System == "":
		return p.User
	case p.User == "":
		return p.System
	default:
		return p.System + "\n\n" + p.User
	}
}

// segmentConfidence derives a [0,1] score from per-segment average log
// probabilities. Whisper reports no document-level confidence, so the mean
// per-segment token probability is the usual stand-in. No segments means the
// backend gave us nothing to judge by; report full confidence like the
// plain-JSON response path would.
func segmentConfidence(avgLogprobs []float64) float64 {
	if len(avgLogprobs) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, lp := range avgLogprobs {
		sum += math.Exp(lp)
	}
	c := sum / float64(len(avgLogprobs))
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// classify wraps an SDK error as a *Error with retryability derived from the
// upstream HTTP status. Transport-level failures (no status at all) are
// treated as transient.
func classify(msg string, err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Retryable: retryableStatus(apiErr.HTTPStatusCode),
			Message:   msg,
			Err:       err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{
			Retryable: retryableStatus(reqErr.HTTPStatusCode),
			Message:   msg,
			Err:       err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Retryable: false, Message: msg, Err: err}
	}
	// Network/transport failure without an HTTP status: transient.
	return &Error{Retryable: true, Message: msg, Err: err}
}
