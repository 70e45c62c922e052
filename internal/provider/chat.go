// Chat-completion summarization backend.
package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Default prompts used when the caller supplies none. The system prompt asks
// for a strict JSON object so the response parses without scraping.
const (
	defaultSummarySystemPrompt = `You are a note-taking assistant. Summarize the transcript you are given. ` +
		`Respond with a JSON object: {"summary": string, "key_points": [string], "action_items": [string]}. ` +
		`Omit key_points or action_items when the transcript has none. Answer in the transcript's language.`
	defaultSummaryUserPrompt = "Summarize the following transcript:\n\n"
)

// SummarizerConfig configures a ChatSummarizer.
type SummarizerConfig struct {
	APIKey      string
	BaseURL     string // "" keeps the SDK default; set for OpenRouter
	Model       string // e.g. "gpt-4o-mini", "google/gemini-2.0-flash-001"
	Timeout     time.Duration
	MaxTokens   int     // 0 → 2000
	Temperature float32 // sampling temperature; summaries want it low
}

// ChatSummarizer produces structured summaries via the chat-completion API
// with a JSON response format. It consumes the system/user prompt pair shape.
type ChatSummarizer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewChatSummarizer builds a summarizer from config.
func NewChatSummarizer(cfg SummarizerConfig) *ChatSummarizer {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &ChatSummarizer{
		client:      openai.NewClientWithConfig(cc),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Model returns the configured model identifier.
func (s *ChatSummarizer) Model() string { return s.model }

// summaryPayload mirrors the JSON object the system prompt requests.
type summaryPayload struct {
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
	Language    string   `json:"language,omitempty"`
}

// Summarize runs one chat completion over the transcript. Caller-supplied
// system/user prompts override the defaults; the transcript is always
// appended to the user message.
func (s *ChatSummarizer) Summarize(ctx context.Context, req SummarizeRequest) (*SummaryResult, error) {
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = defaultSummarySystemPrompt
	}
	user := req.User
	if strings.TrimSpace(user) == "" {
		user = defaultSummaryUserPrompt
	}
	user = user + "\n\n" + req.Text

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classify("summarization failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Retryable: true, Message: "summarization returned no choices"}
	}

	content := resp.Choices[0].Message.Content
	var payload summaryPayload
	if jerr := json.Unmarshal([]byte(strip(content)), &payload); jerr != nil || payload.Summary == "" {
		// Some models ignore the response-format hint; fall back to the raw
		// completion as a free-form summary.
		payload = summaryPayload{Summary: strings.TrimSpace(content)}
	}

	lang := payload.Language
	if lang == "" {
		lang = req.Language
	}
	return &SummaryResult{
		Summary:     payload.Summary,
		KeyPoints:   payload.KeyPoints,
		ActionItems: payload.ActionItems,
		Language:    lang,
		PromptUsed:  system,
	}, nil
}

// strip removes a leading/trailing markdown code fence that some backends
// wrap around JSON despite the response-format hint.
func strip(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}
