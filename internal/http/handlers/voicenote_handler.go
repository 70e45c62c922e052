// Voice note HTTP handlers.
//
// This file exposes the REST surface of the voice-note lifecycle:
//   - POST   /voicenotes                (multipart upload, creates a pending note)
//   - GET    /voicenotes                (paginated list with filters)
//   - GET    /voicenotes/{id}           (note plus latest artifacts)
//   - POST   /voicenotes/{id}/process   (run the pipeline)
//   - POST   /voicenotes/{id}/reprocess (rerun with optional option overrides)
//   - POST   /voicenotes/{id}/summary   (regenerate summary only)
//   - GET    /voicenotes/{id}/usage     (entity usage history of the note)
//   - DELETE /voicenotes/{id}
//
// Handlers are transport-thin:
//   - validate & normalize inputs (multipart fields, pagination, UUID shapes)
//   - resolve the caller identity (authenticated user or anonymous session)
//   - delegate to application services (VoiceNoteService, UsageService)
//   - implement conditional responses (ETag) and upload idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// upload receipt exists for (owner, key), the handler returns the originally
// created voice note and sets `Idempotency-Replayed: true`. No quota is
// consumed on the replay path.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"voicenote-backend/internal/domain"
	"voicenote-backend/internal/http/middleware"
	"voicenote-backend/internal/repo"
	"voicenote-backend/internal/services"
	"voicenote-backend/internal/sysutil"
	"voicenote-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// VoiceNoteService defines the lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type VoiceNoteService interface {
	// Submit stores the upload and creates a pending voice note.
	Submit(ctx context.Context, in services.SubmitInput) (*domain.VoiceNote, error)
	// Process runs the transcription/summarization pipeline.
	Process(ctx context.Context, id string) (*services.VoiceNoteDetail, error)
	// Reprocess reruns the pipeline, optionally overriding stored options.
	Reprocess(ctx context.Context, id string, opts services.ProcessOptions) (*services.VoiceNoteDetail, error)
	// RegenerateSummary appends a fresh summary from the latest transcription.
	RegenerateSummary(ctx context.Context, id string, opts services.ProcessOptions) (*domain.Summary, error)
	// Get returns one voice note with its latest artifacts.
	Get(ctx context.Context, id string) (*services.VoiceNoteDetail, error)
	// List returns one page of voice notes plus the total count.
	List(ctx context.Context, f repo.VoiceNoteFilter, page, pageSize int, sortBy, sortOrder string) ([]services.VoiceNoteListItem, int64, error)
	// Delete removes a voice note and its artifacts. keepAudio retains the
	// stored blob.
	Delete(ctx context.Context, id string, keepAudio bool) error
}

// UsageService defines entity usage tracking operations consumed by handlers.
type UsageService interface {
	CreateEntity(ctx context.Context, ownerID, name, entityType, description string) (*domain.Entity, error)
	ListEntities(ctx context.Context, ownerID string) ([]domain.Entity, error)
	FindByVoiceNote(ctx context.Context, voiceNoteID string) ([]domain.EntityUsage, error)
	FindByEntity(ctx context.Context, entityID string) ([]domain.EntityUsage, error)
	UpdateCorrection(ctx context.Context, usageID string, wasCorrected bool, originalText, correctedText *string) error
	GetUsageStats(ctx context.Context, entityID string) (services.EntityStats, error)
}

// QuotaService defines the anonymous quota operations consumed by handlers.
type QuotaService interface {
	// Probe reports (remaining, limit) without consuming quota.
	Probe(ctx context.Context, sessionID string) (int, int, error)
	// Reset zeroes a session's counter (administrative).
	Reset(ctx context.Context, sessionID string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for voice notes, entity usage, and quota.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	noteSvc  VoiceNoteService
	usageSvc UsageService
	quotaSvc QuotaService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(noteSvc VoiceNoteService, usageSvc UsageService, quotaSvc QuotaService) *Handlers {
	return &Handlers{noteSvc: noteSvc, usageSvc: usageSvc, quotaSvc: quotaSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header (tests use
// it). It never touches c.Request if it's nil. An empty return means the
// caller is not authenticated.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return ""
}

// identity resolves the caller: the authenticated user id when present,
// otherwise the validated anonymous session id. ok is false when the request
// carries neither.
func identity(c *gin.Context) (uid, sid string, ok bool) {
	if uid = userID(c); uid != "" {
		return uid, "", true
	}
	if sid, _ = middleware.SessionID(c); sid != "" {
		return "", sid, true
	}
	return "", "", false
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListVoiceNotesResponse wraps a page of voice notes and pagination info.
type ListVoiceNotesResponse struct {
	VoiceNotes []services.VoiceNoteListItem `json:"voice_notes"`
	Pagination Pagination                   `json:"pagination"`
}

// ReprocessRequest carries optional processing option overrides. Omitted
// fields keep the stored value; empty strings clear prompts.
type ReprocessRequest struct {
	Language           *string `json:"language,omitempty"`
	TranscriptionModel *string `json:"transcription_model,omitempty"`
	SummaryModel       *string `json:"summary_model,omitempty"`
	WhisperPrompt      *string `json:"whisper_prompt,omitempty"`
	SystemPrompt       *string `json:"system_prompt,omitempty"`
	UserPrompt         *string `json:"user_prompt,omitempty"`
}

func (r ReprocessRequest) toOptions() services.ProcessOptions {
	return services.ProcessOptions{
		Language:           r.Language,
		TranscriptionModel: r.TranscriptionModel,
		SummaryModel:       r.SummaryModel,
		WhisperPrompt:      r.WhisperPrompt,
		SystemPrompt:       r.SystemPrompt,
		UserPrompt:         r.UserPrompt,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// optForm returns a pointer to a multipart form value, nil when the field was
// not sent at all. Distinguishing absent from empty matters for prompts.
func optForm(c *gin.Context, field string) *string {
	if vals, ok := c.GetPostFormArray(field); ok && len(vals) > 0 {
		v := vals[0]
		return &v
	}
	return nil
}

// mapServiceError translates service sentinels into HTTP error envelopes.
// fallbackCode is used for unexpected errors (always a 500).
func mapServiceError(c *gin.Context, err error, fallbackCode string) {
	var qe *services.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		failQuota(c, qe.UsageCount, qe.Limit)
	case errors.Is(err, services.ErrVoiceNoteNotFound),
		errors.Is(err, services.ErrEntityNotFound),
		errors.Is(err, services.ErrUsageNotFound),
		errors.Is(err, services.ErrSessionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrUnsupportedMimeType):
		fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia, err.Error())
	case errors.Is(err, services.ErrEmptyAudio),
		errors.Is(err, services.ErrInvalidInput):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrAlreadyProcessing):
		fail(c, http.StatusConflict, ErrCodeAlreadyProcessing, err.Error())
	case errors.Is(err, services.ErrInvalidState):
		fail(c, http.StatusConflict, ErrCodeInvalidState, err.Error())
	case errors.Is(err, services.ErrNoTranscription):
		fail(c, http.StatusPreconditionFailed, ErrCodeNoTranscription, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

//
// Handlers
//

// UploadVoiceNote accepts a multipart upload and creates a pending voice note.
//
// Form fields:
//   - audio (file, required): the audio payload
//   - title, description, tags (comma-separated), language
//   - transcription_model, summary_model
//   - whisper_prompt OR system_prompt/user_prompt (shapes are exclusive)
//
// Anonymous callers identify via X-Session-ID and consume one quota unit on
// acceptance. Replays via Idempotency-Key return the original note.
func (h *Handlers) UploadVoiceNote(c *gin.Context) {
	ctx := c.Request.Context()

	uid, sid, okID := identity(c)
	if !okID {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication or X-Session-ID required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	owner := middleware.OwnerFromCtx(c)
	if idemKey != "" && owner != "" {
		if db := h.db(); db != nil {
			if rec, err := repo.GetUploadReceipt(ctx, db, owner, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetVoiceNote(ctx, db, rec.VoiceNoteID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, prev)
					return
				}
			}
		}
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "audio file required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "audio file unreadable")
		return
	}
	defer f.Close()

	mime := fh.Header.Get("Content-Type")
	if v := c.PostForm("mime_type"); v != "" {
		mime = v
	}

	in := services.SubmitInput{
		UserID:             uid,
		SessionID:          sid,
		Title:              c.PostForm("title"),
		Description:        c.PostForm("description"),
		Tags:               splitTags(c.PostForm("tags")),
		Audio:              f,
		Filename:           fh.Filename,
		MimeType:           mime,
		Language:           c.PostForm("language"),
		TranscriptionModel: c.PostForm("transcription_model"),
		SummaryModel:       c.PostForm("summary_model"),
		WhisperPrompt:      optForm(c, "whisper_prompt"),
		SystemPrompt:       optForm(c, "system_prompt"),
		UserPrompt:         optForm(c, "user_prompt"),
	}

	vn, err := h.noteSvc.Submit(ctx, in)
	if err != nil {
		mapServiceError(c, err, ErrCodeUploadFailed)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && owner != "" {
		if db := h.db(); db != nil {
			const ttl = 24 * time.Hour
			_, _ = repo.CreateUploadReceipt(ctx, db, owner, idemKey, vn.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, vn)
}

// GetVoiceNote returns one voice note with its latest transcription and summary.
func (h *Handlers) GetVoiceNote(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voice note id must be a UUID")
		return
	}
	d, err := h.noteSvc.Get(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// ListVoiceNotes returns a paginated, filterable list of the caller's notes.
//
// Query parameters: status, tag, search, from, to (RFC 3339 creation-date
// bounds, inclusive), page, page_size, sort_by (created_at|updated_at|title),
// sort_order (asc|desc).
func (h *Handlers) ListVoiceNotes(c *gin.Context) {
	ctx := c.Request.Context()

	uid, sid, okID := identity(c)
	if !okID {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication or X-Session-ID required")
		return
	}
	f := repo.VoiceNoteFilter{
		UserID:    uid,
		SessionID: sid,
		Status:    c.Query("status"),
		Tag:       c.Query("tag"),
		Search:    c.Query("search"),
	}
	if v := c.Query("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from must be an RFC 3339 timestamp")
			return
		}
		f.From = &ts
	}
	if v := c.Query("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "to must be an RFC 3339 timestamp")
			return
		}
		f.To = &ts
	}

	// ETag pre-check (best effort).
	if db := h.db(); db != nil {
		count, maxTS, err := repo.VoiceNotesStats(ctx, db, f)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"voicenotes:%s%s:%d:%d"`, uid, sid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.noteSvc.List(ctx, f, page, pageSize, c.Query("sort_by"), c.Query("sort_order"))
	if err != nil {
		mapServiceError(c, err, ErrCodeListFailed)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListVoiceNotesResponse{
		VoiceNotes: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// ProcessVoiceNote triggers the pipeline for a pending or failed note.
func (h *Handlers) ProcessVoiceNote(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voice note id must be a UUID")
		return
	}
	d, err := h.noteSvc.Process(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err, ErrCodeProcessFailed)
		return
	}
	ok(c, http.StatusOK, d)
}

// ReprocessVoiceNote reruns the pipeline for a completed or failed note with
// optional option overrides. The body is optional JSON.
func (h *Handlers) ReprocessVoiceNote(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voice note id must be a UUID")
		return
	}
	var req ReprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	d, err := h.noteSvc.Reprocess(c.Request.Context(), id, req.toOptions())
	if err != nil {
		mapServiceError(c, err, ErrCodeProcessFailed)
		return
	}
	ok(c, http.StatusOK, d)
}

// RegenerateSummary produces a fresh summary from the latest transcription.
func (h *Handlers) RegenerateSummary(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voice note id must be a UUID")
		return
	}
	var req ReprocessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	s, err := h.noteSvc.RegenerateSummary(c.Request.Context(), id, req.toOptions())
	if err != nil {
		mapServiceError(c, err, ErrCodeProcessFailed)
		return
	}
	ok(c, http.StatusOK, s)
}

// GetVoiceNoteUsage returns the entity usage history of one voice note.
func (h *Handlers) GetVoiceNoteUsage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voice note id must be a UUID")
		return
	}
	usages, err := h.usageSvc.FindByVoiceNote(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, gin.H{"usages": usages})
}

// DeleteVoiceNote removes a voice note, its artifacts and usage history.
// ?keep_audio=true retains the stored audio blob.
func (h *Handlers) DeleteVoiceNote(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voice note id must be a UUID")
		return
	}
	if err := h.noteSvc.Delete(c.Request.Context(), id, sysutil.IsTruthy(c.Query("keep_audio"))); err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// db exposes the concrete service's DB handle for transport-level lookups
// (ETag stats, upload receipts). Returns nil when handlers were constructed
// with a non-concrete service (e.g., fakes in tests).
func (h *Handlers) db() *gorm.DB {
	if svc, okSvc := h.noteSvc.(*services.VoiceNoteService); okSvc {
		return svc.DB
	}
	return nil
}

// splitTags parses a comma-separated tag list, trimming blanks.
func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
