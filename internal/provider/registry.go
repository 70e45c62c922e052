// Backend registry keyed by model identifier.
package provider

import "fmt"

// Registry resolves model identifiers to concrete backends. It is populated
// once at startup and read-only afterwards, so no locking is needed.
type Registry struct {
	transcribers map[string]Transcriber
	summarizers  map[string]Summarizer

	defaultTranscriber string
	defaultSummarizer  string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		transcribers: make(map[string]Transcriber),
		summarizers:  make(map[string]Summarizer),
	}
}

// RegisterTranscriber adds a transcription backend under its model id. The
// first registration becomes the default.
func (r *Registry) RegisterTranscriber(t Transcriber) {
	if len(r.transcribers) == 0 {
		r.defaultTranscriber = t.Model()
	}
	r.transcribers[t.Model()] = t
}

// RegisterSummarizer adds a summarization backend under its model id. The
// first registration becomes the default.
func (r *Registry) RegisterSummarizer(s Summarizer) {
	if len(r.summarizers) == 0 {
		r.defaultSummarizer = s.Model()
	}
	r.summarizers[s.Model()] = s
}

// Transcriber resolves a model id, or the default when model is empty.
func (r *Registry) Transcriber(model string) (Transcriber, error) {
	if model == "" {
		model = r.defaultTranscriber
	}
	t, ok := r.transcribers[model]
	if !ok {
		return nil, fmt.Errorf("unknown transcription model %q", model)
	}
	return t, nil
}

// Summarizer resolves a model id, or the default when model is empty.
func (r *Registry) Summarizer(model string) (Summarizer, error) {
	if model == "" {
		model = r.defaultSummarizer
	}
	s, ok := r.summarizers[model]
	if !ok {
		return nil, fmt.Errorf("unknown summarization model %q", model)
	}
	return s, nil
}
