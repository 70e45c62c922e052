// Package services – VoiceNoteService
//
// The lifecycle controller owns every status transition of a voice note:
// pending → processing → completed|failed, with retry, reprocess and
// summary regeneration re-entering the machine through the same guarded
// edges. Processing is serialized per voice note through the lock arena;
// a second attempt while one is in flight fails fast instead of queueing.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"voicenote-backend/internal/domain"
	"voicenote-backend/internal/provider"
	"voicenote-backend/internal/repo"
	"voicenote-backend/internal/storage"
)

// supportedMimeTypes is the accepted audio upload set. Audio is never
// decoded here; the type gate only keeps obviously wrong payloads (images,
// video, text) out of the provider calls.
var supportedMimeTypes = map[string]bool{
	"audio/mpeg":   true, // mp3
	"audio/mp3":    true,
	"audio/mp4":    true, // m4a
	"audio/x-m4a":  true,
	"audio/m4a":    true,
	"audio/wav":    true,
	"audio/x-wav":  true,
	"audio/wave":   true,
	"audio/flac":   true,
	"audio/x-flac": true,
	"audio/ogg":    true,
}

// RetryPolicy bounds the exponential backoff applied to retryable provider
// failures. Zero values fall back to the defaults below.
type RetryPolicy struct {
	MaxRetries      uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	return p
}

// VoiceNoteService drives the voice-note lifecycle: uploads, the
// transcription/summarization pipeline, reprocessing and deletion.
type VoiceNoteService struct {
	DB        *gorm.DB
	Store     storage.AudioStore
	Providers *provider.Registry
	Gate      *AnonymousGate
	Usage     *UsageService
	Retry     RetryPolicy

	// KeepAudioOnDelete retains the stored blob when a voice note is
	// deleted (the row is soft-deleted either way).
	KeepAudioOnDelete bool

	locks *lockArena
}

// NewVoiceNoteService wires the lifecycle controller. gate may be nil when
// anonymous access is disabled entirely.
func NewVoiceNoteService(db *gorm.DB, store storage.AudioStore, reg *provider.Registry, gate *AnonymousGate, usage *UsageService, retry RetryPolicy) *VoiceNoteService {
	return &VoiceNoteService{
		DB:        db,
		Store:     store,
		Providers: reg,
		Gate:      gate,
		Usage:     usage,
		Retry:     retry.withDefaults(),
		locks:     newLockArena(10 * time.Minute),
	}
}

// SubmitInput carries one upload. Exactly one of UserID/SessionID must be
// set. Prompts are mutually exclusive by shape: WhisperPrompt is the
// free-text hint, SystemPrompt/UserPrompt the chat pair.
type SubmitInput struct {
	UserID    string
	SessionID string

	Title       string
	Description string
	Tags        []string

	Audio    io.Reader
	Filename string
	MimeType string

	Language           string
	TranscriptionModel string
	SummaryModel       string
	WhisperPrompt      *string
	SystemPrompt       *string
	UserPrompt         *string
}

// ProcessOptions override stored processing options on a reprocess. Nil
// pointers leave the stored value untouched; empty strings clear prompts.
type ProcessOptions struct {
	Language           *string
	TranscriptionModel *string
	SummaryModel       *string
	WhisperPrompt      *string
	SystemPrompt       *string
	UserPrompt         *string
}

// VoiceNoteDetail is the read projection of one voice note with its current
// artifacts.
type VoiceNoteDetail struct {
	VoiceNote        domain.VoiceNote      `json:"voice_note"`
	Transcription    *domain.Transcription `json:"transcription,omitempty"`
	Summary          *domain.Summary       `json:"summary,omitempty"`
	HasTranscription bool                  `json:"has_transcription"`
	HasSummary       bool                  `json:"has_summary"`
}

// VoiceNoteListItem is the list projection: the note plus artifact presence
// flags, without the heavy artifact bodies.
type VoiceNoteListItem struct {
	domain.VoiceNote
	HasTranscription bool `json:"has_transcription"`
	HasSummary       bool `json:"has_summary"`
}

// Submit validates and stores one upload and creates the voice note in the
// pending state. Nothing is transcribed here; processing is a separate,
// explicitly triggered step.
//
// Anonymous submissions pass through the usage gate first, so a rejected
// caller never consumes storage. Validation failures after admission do not
// refund the consumed quota unit; admission is the point of commitment.
func (s *VoiceNoteService) Submit(ctx context.Context, in SubmitInput) (*domain.VoiceNote, error) {
	tr := otel.Tracer("services/VoiceNoteService")
	ctx, span := tr.Start(ctx, "Submit")
	defer span.End()

	if (in.UserID == "") == (in.SessionID == "") {
		return nil, ErrInvalidInput
	}
	if in.Audio == nil {
		return nil, ErrEmptyAudio
	}
	mime := normalizeMime(in.MimeType)
	if !supportedMimeTypes[mime] {
		return nil, ErrUnsupportedMimeType
	}
	lang, err := normalizeLanguage(in.Language)
	if err != nil {
		return nil, err
	}
	prompt, err := buildPrompt(in.WhisperPrompt, in.SystemPrompt, in.UserPrompt)
	if err != nil {
		return nil, err
	}
	t, err := s.Providers.Transcriber(in.TranscriptionModel)
	if err != nil {
		return nil, ErrInvalidInput
	}
	if !t.Accepts(prompt) {
		return nil, ErrInvalidInput
	}
	if in.SummaryModel != "" {
		if _, err := s.Providers.Summarizer(in.SummaryModel); err != nil {
			return nil, ErrInvalidInput
		}
	}

	if in.SessionID != "" {
		if _, err := s.Gate.Admit(ctx, in.SessionID); err != nil {
			return nil, err
		}
	}

	key, size, err := s.Store.Save(in.Audio, in.Filename)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		_ = s.Store.Delete(key)
		return nil, ErrEmptyAudio
	}

	vn := &domain.VoiceNote{
		Title:              strings.TrimSpace(in.Title),
		Description:        in.Description,
		Tags:               in.Tags,
		AudioPath:          key,
		FileSize:           size,
		MimeType:           mime,
		Language:           lang,
		TranscriptionModel: in.TranscriptionModel,
		SummaryModel:       in.SummaryModel,
		WhisperPrompt:      in.WhisperPrompt,
		SystemPrompt:       in.SystemPrompt,
		UserPrompt:         in.UserPrompt,
		Status:             domain.StatusPending,
		Version:            1,
	}
	if vn.Title == "" {
		vn.Title = "New voice note"
	}
	if in.UserID != "" {
		vn.UserID = &in.UserID
	} else {
		vn.SessionID = &in.SessionID
	}

	if err := repo.CreateVoiceNote(ctx, s.DB, vn); err != nil {
		_ = s.Store.Delete(key)
		return nil, err
	}
	span.SetAttributes(attribute.String("voicenote.id", vn.ID))
	log.Info().Str("voice_note_id", vn.ID).Int64("size", size).Str("mime", mime).Msg("voice note submitted")
	return vn, nil
}

// Process runs the full pipeline for a pending or failed voice note:
// transcribe, summarize, record entity usage, then mark completed. Failure
// at any stage marks the note failed and stores the provider error verbatim
// so the client can display it.
//
// Errors:
//   - ErrVoiceNoteNotFound when the id is unknown.
//   - ErrAlreadyProcessing when another attempt holds the note's lock.
//   - ErrInvalidState when the note is not pending or failed.
func (s *VoiceNoteService) Process(ctx context.Context, id string) (*VoiceNoteDetail, error) {
	return s.run(ctx, id, []string{domain.StatusPending, domain.StatusFailed}, false)
}

// Reprocess reruns the full pipeline for a completed or failed voice note,
// optionally overriding the stored processing options first. The version
// counter increases by one; earlier artifacts remain as history.
//
// Overrides are persisted only after the note's lock is held: a call
// rejected with ErrAlreadyProcessing leaves the stored options untouched.
func (s *VoiceNoteService) Reprocess(ctx context.Context, id string, opts ProcessOptions) (*VoiceNoteDetail, error) {
	updates, err := s.optionUpdates(opts)
	if err != nil {
		return nil, err
	}
	release, ok := s.locks.tryAcquire("note:" + id)
	if !ok {
		return nil, ErrAlreadyProcessing
	}
	defer release()

	if len(updates) > 0 {
		if err := repo.UpdateVoiceNoteOptions(ctx, s.DB, id, updates); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrVoiceNoteNotFound
			}
			return nil, err
		}
	}
	return s.runLocked(ctx, id, []string{domain.StatusCompleted, domain.StatusFailed}, true)
}

// RegenerateSummary produces a fresh summary from the latest transcription
// without re-running transcription. The new summary is appended and the
// version counter increases by one.
//
// Errors:
//   - ErrVoiceNoteNotFound when the id is unknown.
//   - ErrNoTranscription when no transcription exists yet.
//   - ErrAlreadyProcessing when a pipeline run holds the note's lock.
func (s *VoiceNoteService) RegenerateSummary(ctx context.Context, id string, opts ProcessOptions) (*domain.Summary, error) {
	tr := otel.Tracer("services/VoiceNoteService")
	ctx, span := tr.Start(ctx, "RegenerateSummary",
		trace.WithAttributes(attribute.String("voicenote.id", id)),
	)
	defer span.End()

	release, ok := s.locks.tryAcquire("note:" + id)
	if !ok {
		return nil, ErrAlreadyProcessing
	}
	defer release()

	updates, err := s.optionUpdates(opts)
	if err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		if err := repo.UpdateVoiceNoteOptions(ctx, s.DB, id, updates); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrVoiceNoteNotFound
			}
			return nil, err
		}
	}

	vn, err := repo.GetVoiceNote(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrVoiceNoteNotFound
		}
		return nil, err
	}
	t, err := repo.LatestTranscription(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoTranscription
		}
		return nil, err
	}

	sum, err := s.summarize(ctx, vn, t)
	if err != nil {
		pipelineRuns.WithLabelValues("summarization", "failed").Inc()
		return nil, err
	}
	if err := repo.CreateSummary(ctx, s.DB, sum); err != nil {
		return nil, err
	}
	if err := repo.BumpVersion(ctx, s.DB, id); err != nil {
		return nil, err
	}
	pipelineRuns.WithLabelValues("summarization", "completed").Inc()
	log.Info().Str("voice_note_id", id).Msg("summary regenerated")
	return sum, nil
}

// Get returns one voice note with its latest artifacts.
func (s *VoiceNoteService) Get(ctx context.Context, id string) (*VoiceNoteDetail, error) {
	vn, err := repo.GetVoiceNote(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrVoiceNoteNotFound
		}
		return nil, err
	}
	return s.detail(ctx, vn)
}

// List returns one page of voice notes for the filter, newest first by
// default, each annotated with artifact presence flags.
func (s *VoiceNoteService) List(ctx context.Context, f repo.VoiceNoteFilter, page, pageSize int, sortBy, sortOrder string) ([]VoiceNoteListItem, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	total, err := repo.CountVoiceNotes(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	notes, err := repo.ListVoiceNotesPage(ctx, s.DB, f, (page-1)*pageSize, pageSize, sortBy, sortOrder)
	if err != nil {
		return nil, 0, err
	}
	items := make([]VoiceNoteListItem, 0, len(notes))
	for _, vn := range notes {
		tc, sc, err := repo.CountArtifacts(ctx, s.DB, vn.ID)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, VoiceNoteListItem{
			VoiceNote:        vn,
			HasTranscription: tc > 0,
			HasSummary:       sc > 0,
		})
	}
	return items, total, nil
}

// Delete removes a voice note, its artifacts and usage history, and the
// stored audio blob. keepAudio retains the blob for this call; the
// service-wide KeepAudioOnDelete default retains it for every call. The
// aggregate row is soft-deleted for audit.
func (s *VoiceNoteService) Delete(ctx context.Context, id string, keepAudio bool) error {
	release := s.locks.acquire("note:" + id)
	defer release()

	vn, err := repo.GetVoiceNote(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrVoiceNoteNotFound
		}
		return err
	}
	if err := repo.DeleteVoiceNote(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrVoiceNoteNotFound
		}
		return err
	}
	if !keepAudio && !s.KeepAudioOnDelete {
		if err := s.Store.Delete(vn.AudioPath); err != nil {
			// The row is gone; a leaked blob is logged, not fatal.
			log.Warn().Err(err).Str("voice_note_id", id).Msg("audio blob delete failed")
		}
	}
	log.Info().Str("voice_note_id", id).Msg("voice note deleted")
	return nil
}

// run acquires the note's lock and executes the pipeline, guarding the entry
// edge with the fromStatuses set. bumpVersion is set on reprocess.
func (s *VoiceNoteService) run(ctx context.Context, id string, fromStatuses []string, bumpVersion bool) (*VoiceNoteDetail, error) {
	release, ok := s.locks.tryAcquire("note:" + id)
	if !ok {
		return nil, ErrAlreadyProcessing
	}
	defer release()
	return s.runLocked(ctx, id, fromStatuses, bumpVersion)
}

// runLocked is the pipeline body. The caller holds the note's lock.
func (s *VoiceNoteService) runLocked(ctx context.Context, id string, fromStatuses []string, bumpVersion bool) (*VoiceNoteDetail, error) {
	tr := otel.Tracer("services/VoiceNoteService")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(attribute.String("voicenote.id", id)),
	)
	defer span.End()

	vn, err := repo.GetVoiceNote(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrVoiceNoteNotFound
		}
		return nil, err
	}

	// Guarded edge into processing. RowsAffected 0 with an existing row
	// means the current status is outside fromStatuses.
	if err := repo.SetStatus(ctx, s.DB, id, fromStatuses, domain.StatusProcessing, nil); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	if bumpVersion {
		if err := repo.BumpVersion(ctx, s.DB, id); err != nil {
			s.fail(id, "internal error before processing")
			return nil, err
		}
	}

	// A note must never be left in processing: if the pipeline exits
	// without reaching a terminal transition (panic included), force the
	// failed edge. The SetStatus guard makes this a no-op after a normal
	// completion.
	defer func() {
		msg := "processing aborted"
		_ = repo.SetStatus(context.WithoutCancel(ctx), s.DB, id,
			[]string{domain.StatusProcessing}, domain.StatusFailed, &msg)
	}()

	if err := s.pipeline(ctx, vn); err != nil {
		s.fail(id, err.Error())
		pipelineRuns.WithLabelValues("pipeline", "failed").Inc()
		log.Error().Err(err).Str("voice_note_id", id).Msg("pipeline failed")
		return nil, err
	}

	if err := repo.SetStatus(ctx, s.DB, id, []string{domain.StatusProcessing}, domain.StatusCompleted, nil); err != nil {
		return nil, err
	}
	pipelineRuns.WithLabelValues("pipeline", "completed").Inc()
	log.Info().Str("voice_note_id", id).Msg("pipeline completed")

	fresh, err := repo.GetVoiceNote(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, fresh)
}

// fail moves a processing note onto the failed edge, preserving the error
// text verbatim for the client.
func (s *VoiceNoteService) fail(id, message string) {
	_ = repo.SetStatus(context.Background(), s.DB, id,
		[]string{domain.StatusProcessing}, domain.StatusFailed, &message)
}

// pipeline is the happy path body: transcribe, persist, summarize, persist,
// record entity usage. The caller owns the lifecycle edges.
func (s *VoiceNoteService) pipeline(ctx context.Context, vn *domain.VoiceNote) error {
	t, err := s.transcribe(ctx, vn)
	if err != nil {
		pipelineRuns.WithLabelValues("transcription", "failed").Inc()
		return err
	}
	if err := repo.CreateTranscription(ctx, s.DB, t); err != nil {
		return err
	}
	pipelineRuns.WithLabelValues("transcription", "completed").Inc()

	sum, err := s.summarize(ctx, vn, t)
	if err != nil {
		pipelineRuns.WithLabelValues("summarization", "failed").Inc()
		return err
	}
	if err := repo.CreateSummary(ctx, s.DB, sum); err != nil {
		return err
	}
	pipelineRuns.WithLabelValues("summarization", "completed").Inc()

	if err := s.recordEntityUsage(ctx, vn, t.Text); err != nil {
		// Usage tracking is best-effort history; it never fails the run.
		log.Warn().Err(err).Str("voice_note_id", vn.ID).Msg("entity usage tracking failed")
	}
	return nil
}

// transcribe runs the transcription backend with bounded exponential
// backoff on retryable provider errors.
func (s *VoiceNoteService) transcribe(ctx context.Context, vn *domain.VoiceNote) (*domain.Transcription, error) {
	tb, err := s.Providers.Transcriber(vn.TranscriptionModel)
	if err != nil {
		return nil, err
	}
	prompt, err := buildPrompt(vn.WhisperPrompt, vn.SystemPrompt, vn.UserPrompt)
	if err != nil {
		return nil, err
	}
	lang := vn.Language
	if lang == "auto" {
		lang = ""
	}

	var res *provider.TranscriptionResult
	op := func() error {
		audio, err := s.Store.Open(vn.AudioPath)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer audio.Close()

		r, err := tb.Transcribe(ctx, provider.TranscribeRequest{
			Audio:    audio,
			Filename: vn.AudioPath,
			MimeType: vn.MimeType,
			Language: lang,
			Prompt:   prompt,
		})
		if err != nil {
			return classifyForRetry(err)
		}
		res = r
		return nil
	}
	if err := s.retry(ctx, "transcription", op); err != nil {
		return nil, err
	}
	return &domain.Transcription{
		VoiceNoteID: vn.ID,
		Text:        res.Text,
		Language:    res.Language,
		Duration:    res.Duration,
		Confidence:  res.Confidence,
		Model:       tb.Model(),
	}, nil
}

// summarize runs the summarization backend with the same retry policy.
func (s *VoiceNoteService) summarize(ctx context.Context, vn *domain.VoiceNote, t *domain.Transcription) (*domain.Summary, error) {
	sb, err := s.Providers.Summarizer(vn.SummaryModel)
	if err != nil {
		return nil, err
	}
	req := provider.SummarizeRequest{
		Text:     t.Text,
		Language: t.Language,
	}
	if vn.SystemPrompt != nil {
		req.System = *vn.SystemPrompt
	}
	if vn.UserPrompt != nil {
		req.User = *vn.UserPrompt
	}

	var res *provider.SummaryResult
	op := func() error {
		r, err := sb.Summarize(ctx, req)
		if err != nil {
			return classifyForRetry(err)
		}
		res = r
		return nil
	}
	if err := s.retry(ctx, "summarization", op); err != nil {
		return nil, err
	}
	return &domain.Summary{
		VoiceNoteID: vn.ID,
		Text:        res.Summary,
		KeyPoints:   res.KeyPoints,
		ActionItems: res.ActionItems,
		Language:    res.Language,
		PromptUsed:  res.PromptUsed,
	}, nil
}

// retry runs op under the bounded exponential backoff policy, counting
// retried attempts per stage.
func (s *VoiceNoteService) retry(ctx context.Context, stage string, op backoff.Operation) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.Retry.InitialInterval
	eb.MaxInterval = s.Retry.MaxInterval

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.Retry.MaxRetries)), ctx)
	return backoff.RetryNotify(op, b, func(err error, _ time.Duration) {
		providerRetries.WithLabelValues(stage).Inc()
		log.Warn().Err(err).Str("stage", stage).Msg("provider call retrying")
	})
}

// recordEntityUsage matches the owner's known entities against the
// transcript and appends one usage row per entity: WasUsed when the
// entity's name occurs in the text.
func (s *VoiceNoteService) recordEntityUsage(ctx context.Context, vn *domain.VoiceNote, transcript string) error {
	if s.Usage == nil {
		return nil
	}
	ownerID := ""
	if vn.UserID != nil {
		ownerID = *vn.UserID
	} else if vn.SessionID != nil {
		ownerID = *vn.SessionID
	}
	if ownerID == "" {
		return nil
	}
	entities, err := repo.ListEntitiesForOwner(ctx, s.DB, ownerID)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}
	lower := strings.ToLower(transcript)
	records := make([]UsageRecord, 0, len(entities))
	for _, e := range entities {
		records = append(records, UsageRecord{
			EntityID: e.ID,
			WasUsed:  strings.Contains(lower, strings.ToLower(e.Name)),
		})
	}
	return s.Usage.TrackUsage(ctx, vn.ID, records)
}

// detail loads the latest artifacts for one note.
func (s *VoiceNoteService) detail(ctx context.Context, vn *domain.VoiceNote) (*VoiceNoteDetail, error) {
	d := &VoiceNoteDetail{VoiceNote: *vn}

	t, err := repo.LatestTranscription(ctx, s.DB, vn.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if t != nil {
		d.Transcription = t
		d.HasTranscription = true
	}

	sum, err := repo.LatestSummary(ctx, s.DB, vn.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if sum != nil {
		d.Summary = sum
		d.HasSummary = true
	}
	return d, nil
}

// optionUpdates converts reprocess overrides into a column update map.
// Model ids are resolved against the registry up front so an unknown model
// fails before any status transition happens.
func (s *VoiceNoteService) optionUpdates(opts ProcessOptions) (map[string]any, error) {
	updates := map[string]any{}
	if opts.Language != nil {
		lang, err := normalizeLanguage(*opts.Language)
		if err != nil {
			return nil, err
		}
		updates["language"] = lang
	}
	if opts.TranscriptionModel != nil {
		if _, err := s.Providers.Transcriber(*opts.TranscriptionModel); err != nil {
			return nil, ErrInvalidInput
		}
		updates["transcription_model"] = *opts.TranscriptionModel
	}
	if opts.SummaryModel != nil {
		if _, err := s.Providers.Summarizer(*opts.SummaryModel); err != nil {
			return nil, ErrInvalidInput
		}
		updates["summary_model"] = *opts.SummaryModel
	}
	if opts.WhisperPrompt != nil {
		updates["whisper_prompt"] = nullable(*opts.WhisperPrompt)
	}
	if opts.SystemPrompt != nil {
		updates["system_prompt"] = nullable(*opts.SystemPrompt)
	}
	if opts.UserPrompt != nil {
		updates["user_prompt"] = nullable(*opts.UserPrompt)
	}
	return updates, nil
}

// nullable maps "" to NULL so cleared prompts are stored as absent, not
// empty strings.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// buildPrompt assembles the Prompt value from the stored fields. Setting
// both the hint and the pair is a shape conflict and rejected.
func buildPrompt(whisper, system, user *string) (provider.Prompt, error) {
	hasHint := whisper != nil && *whisper != ""
	hasPair := (system != nil && *system != "") || (user != nil && *user != "")
	switch {
	case hasHint && hasPair:
		return nil, ErrInvalidInput
	case hasHint:
		return provider.HintPrompt{Text: *whisper}, nil
	case hasPair:
		p := provider.PairPrompt{}
		if system != nil {
			p.System = *system
		}
		if user != nil {
			p.User = *user
		}
		return p, nil
	default:
		return nil, nil
	}
}

// classifyForRetry maps provider errors onto the backoff vocabulary:
// non-retryable provider errors and non-provider errors become permanent.
func classifyForRetry(err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		if pe.Retryable {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Permanent(err)
}

// normalizeMime lowercases and strips parameters ("audio/ogg; codecs=opus").
func normalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}

// normalizeLanguage validates a requested language and reduces it to its
// primary subtag ("en-US" → "en"). Empty and "auto" mean auto-detection.
func normalizeLanguage(l string) (string, error) {
	l = strings.TrimSpace(l)
	if l == "" || strings.EqualFold(l, "auto") {
		return "auto", nil
	}
	tag, err := language.Parse(l)
	if err != nil {
		return "", fmt.Errorf("%w: language %q", ErrInvalidInput, l)
	}
	base, _ := tag.Base()
	return base.String(), nil
}
