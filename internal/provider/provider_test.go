package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPromptShapes(t *testing.T) {
	if (HintPrompt{}).shape() != "hint" {
		t.Fatalf("HintPrompt shape unexpected")
	}
	if (PairPrompt{}).shape() != "pair" {
		t.Fatalf("PairPrompt shape unexpected")
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	e := &Error{Retryable: true, Message: "transcription failed", Err: inner}
	if !strings.Contains(e.Error(), "transcription failed") || !strings.Contains(e.Error(), "boom") {
		t.Fatalf("Error() = %q", e.Error())
	}
	if !errors.Is(e, inner) {
		t.Fatalf("Unwrap should expose the inner error")
	}

	bare := &Error{Message: "no choices"}
	if bare.Error() != "provider: no choices" {
		t.Fatalf("bare Error() = %q", bare.Error())
	}
	if bare.Unwrap() != nil {
		t.Fatalf("bare Unwrap should be nil")
	}
}

func TestRetryableStatus(t *testing.T) {
	cases := map[int]bool{
		429: true,
		500: true,
		503: true,
		400: false,
		401: false,
		404: false,
		200: false,
	}
	for code, want := range cases {
		if got := retryableStatus(code); got != want {
			t.Errorf("retryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestRegistry_DefaultsAndLookup(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Transcriber(""); err == nil {
		t.Fatalf("empty registry should not resolve a default transcriber")
	}

	w1 := NewWhisperTranscriber(WhisperConfig{Model: "whisper-1"})
	w2 := NewWhisperTranscriber(WhisperConfig{Model: "gpt-4o-transcribe"})
	reg.RegisterTranscriber(w1)
	reg.RegisterTranscriber(w2)

	got, err := reg.Transcriber("")
	if err != nil || got.Model() != "whisper-1" {
		t.Fatalf("first registration should be the default, got %v %v", got, err)
	}
	got, err = reg.Transcriber("gpt-4o-transcribe")
	if err != nil || got.Model() != "gpt-4o-transcribe" {
		t.Fatalf("explicit lookup failed: %v %v", got, err)
	}
	if _, err := reg.Transcriber("nope"); err == nil {
		t.Fatalf("unknown model should fail")
	}

	s := NewChatSummarizer(SummarizerConfig{Model: "gpt-4o-mini"})
	reg.RegisterSummarizer(s)
	if got, err := reg.Summarizer(""); err != nil || got.Model() != "gpt-4o-mini" {
		t.Fatalf("summarizer default lookup failed: %v %v", got, err)
	}
	if _, err := reg.Summarizer("nope"); err == nil {
		t.Fatalf("unknown summarizer should fail")
	}
}

func TestWhisperAccepts_BothShapes(t *testing.T) {
	tr := NewWhisperTranscriber(WhisperConfig{Model: "whisper-1"})
	if !tr.Accepts(nil) {
		t.Fatalf("nil prompt must be accepted")
	}
	if !tr.Accepts(HintPrompt{Text: "names: Anna"}) {
		t.Fatalf("hint prompt must be accepted")
	}
	if !tr.Accepts(PairPrompt{System: "s", User: "u"}) {
		t.Fatalf("pair prompt must be accepted (flattened)")
	}
}

func TestJoinPair(t *testing.T) {
	if joinPair(PairPrompt{User: "u"}) != "u" {
		t.Fatalf("user-only pair")
	}
	if joinPair(PairPrompt{System: "s"}) != "s" {
		t.Fatalf("system-only pair")
	}
	if joinPair(PairPrompt{System: "s", User: "u"}) != "s\n\nu" {
		t.Fatalf("full pair")
	}
}

func TestStrip_CodeFences(t *testing.T) {
	in := "```json\n{\"summary\":\"x\"}\n```"
	if got := strip(in); got != `{"summary":"x"}` {
		t.Fatalf("strip = %q", got)
	}
	if got := strip(`{"summary":"x"}`); got != `{"summary":"x"}` {
		t.Fatalf("strip of plain JSON = %q", got)
	}
}

// --- adapter calls against a stub OpenAI-compatible server ---

func newStubServer(t *testing.T, path string, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, path) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestWhisperTranscribe_Success(t *testing.T) {
	srv := newStubServer(t, "/audio/transcriptions", http.StatusOK,
		`{"task":"transcribe","language":"en","duration":2.5,"text":"hello world",
		  "segments":[{"avg_logprob":-0.05},{"avg_logprob":-0.10}]}`)
	defer srv.Close()

	tr := NewWhisperTranscriber(WhisperConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "whisper-1"})
	res, err := tr.Transcribe(context.Background(), TranscribeRequest{
		Audio:    strings.NewReader("bytes"),
		Filename: "memo.mp3",
		Language: "en",
		Prompt:   HintPrompt{Text: "names: Anna"},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" || res.Language != "en" || res.Duration != 2.5 {
		t.Fatalf("result unexpected: %+v", res)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", res.Confidence)
	}
}

func TestWhisperTranscribe_RateLimited_IsRetryable(t *testing.T) {
	srv := newStubServer(t, "/audio/transcriptions", http.StatusTooManyRequests,
		`{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
	defer srv.Close()

	tr := NewWhisperTranscriber(WhisperConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "whisper-1"})
	_, err := tr.Transcribe(context.Background(), TranscribeRequest{
		Audio:    strings.NewReader("bytes"),
		Filename: "memo.mp3",
	})
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if !pe.Retryable {
		t.Fatalf("429 must be retryable")
	}
}

func TestWhisperTranscribe_BadRequest_NotRetryable(t *testing.T) {
	srv := newStubServer(t, "/audio/transcriptions", http.StatusBadRequest,
		`{"error":{"message":"bad audio","type":"invalid_request_error"}}`)
	defer srv.Close()

	tr := NewWhisperTranscriber(WhisperConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "whisper-1"})
	_, err := tr.Transcribe(context.Background(), TranscribeRequest{
		Audio:    strings.NewReader("bytes"),
		Filename: "memo.mp3",
	})
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if pe.Retryable {
		t.Fatalf("400 must not be retryable")
	}
}

func TestChatSummarize_StructuredJSON(t *testing.T) {
	srv := newStubServer(t, "/chat/completions", http.StatusOK,
		`{"choices":[{"message":{"role":"assistant",
		  "content":"{\"summary\":\"short\",\"key_points\":[\"a\",\"b\"],\"action_items\":[\"do x\"]}"}}]}`)
	defer srv.Close()

	s := NewChatSummarizer(SummarizerConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	res, err := s.Summarize(context.Background(), SummarizeRequest{Text: "transcript", Language: "en"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Summary != "short" || len(res.KeyPoints) != 2 || len(res.ActionItems) != 1 {
		t.Fatalf("payload unexpected: %+v", res)
	}
	if res.Language != "en" {
		t.Fatalf("language should fall back to the request: %q", res.Language)
	}
	if res.PromptUsed == "" {
		t.Fatalf("PromptUsed should record the system prompt")
	}
}

func TestChatSummarize_NonJSONFallsBackToRawText(t *testing.T) {
	srv := newStubServer(t, "/chat/completions", http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"just prose, no JSON"}}]}`)
	defer srv.Close()

	s := NewChatSummarizer(SummarizerConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	res, err := s.Summarize(context.Background(), SummarizeRequest{Text: "transcript"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Summary != "just prose, no JSON" || res.KeyPoints != nil {
		t.Fatalf("fallback unexpected: %+v", res)
	}
}

func TestChatSummarize_CustomPromptsOverrideDefaults(t *testing.T) {
	srv := newStubServer(t, "/chat/completions", http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"{\"summary\":\"s\"}"}}]}`)
	defer srv.Close()

	s := NewChatSummarizer(SummarizerConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})
	res, err := s.Summarize(context.Background(), SummarizeRequest{
		Text:   "transcript",
		System: "my system prompt",
		User:   "my user prompt",
	})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.PromptUsed != "my system prompt" {
		t.Fatalf("PromptUsed = %q", res.PromptUsed)
	}
}

func TestSegmentConfidence_Bounds(t *testing.T) {
	if c := segmentConfidence(nil); c != 1.0 {
		t.Fatalf("no segments should report full confidence, got %v", c)
	}
	// exp(0) = 1 per segment, clamped mean stays at 1
	if c := segmentConfidence([]float64{0, 0}); c != 1.0 {
		t.Fatalf("zero logprobs should clamp to 1, got %v", c)
	}
	c := segmentConfidence([]float64{-0.5, -1.5})
	if c <= 0 || c >= 1 {
		t.Fatalf("negative logprobs should land strictly inside (0,1), got %v", c)
	}
}
