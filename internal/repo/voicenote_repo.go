// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the VoiceNote
// aggregate.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a voice note is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - SetStatus additionally returns ErrNotFound when the row exists but its
//     current status is not in the allowed set; the service layer decides
//     whether that means "missing" or "conflicting state".
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"voicenote-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// VoiceNoteFilter narrows List/Count queries. Zero values mean "no filter"
// for that dimension. UserID and SessionID are mutually exclusive owner
// scopes.
type VoiceNoteFilter struct {
	UserID    string
	SessionID string
	Status    string
	Tag       string // membership in the tags list
	Search    string // substring match over title and description
	From      *time.Time
	To        *time.Time
}

// Sortable columns for ListVoiceNotes. Anything else falls back to created_at.
var voiceNoteSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"title":      "title",
}

// CreateVoiceNote inserts a new VoiceNote row. The caller populates the
// domain fields; ID and CreatedAt are assigned here when unset.
func CreateVoiceNote(ctx context.Context, db *gorm.DB, vn *domain.VoiceNote) error {
	if vn.ID == "" {
		vn.ID = uuid.NewString()
	}
	if vn.CreatedAt.IsZero() {
		vn.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(vn).Error
}

// GetVoiceNote fetches a single voice note by ID, or ErrNotFound.
func GetVoiceNote(ctx context.Context, db *gorm.DB, id string) (*domain.VoiceNote, error) {
	var vn domain.VoiceNote
	if err := db.WithContext(ctx).Where("id = ?", id).First(&vn).Error; err != nil {
		return nil, err
	}
	return &vn, nil
}

// SetStatus performs a guarded status transition: the row is updated only
// when its current status is one of fromStatuses, which makes the transition
// atomic with respect to concurrent writers. errMsg is stored for "failed"
// and cleared otherwise. Returns ErrNotFound when no row was updated.
func SetStatus(ctx context.Context, db *gorm.DB, id string, fromStatuses []string, to string, errMsg *string) error {
	updates := map[string]any{
		"status":        to,
		"error_message": errMsg,
		"updated_at":    time.Now().UTC(),
	}
	res := db.WithContext(ctx).
		Model(&domain.VoiceNote{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpVersion increments the reprocess counter by one. Returns ErrNotFound
// when the voice note does not exist.
func BumpVersion(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.VoiceNote{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateVoiceNoteOptions overwrites the processing options (model selection,
// prompts, language) ahead of a reprocess. Nil prompt pointers clear the
// stored prompts.
func UpdateVoiceNoteOptions(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.VoiceNote{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountVoiceNotes returns the number of voice notes matching the filter.
func CountVoiceNotes(ctx context.Context, db *gorm.DB, f VoiceNoteFilter) (int64, error) {
	var total int64
	err := applyVoiceNoteFilter(db.WithContext(ctx).Model(&domain.VoiceNote{}), f).
		Count(&total).Error
	return total, err
}

// ListVoiceNotesPage returns a page of voice notes matching the filter,
// sorted by one of the whitelisted columns. The caller computes offset and
// limit (e.g., (page-1)*pageSize).
func ListVoiceNotesPage(ctx context.Context, db *gorm.DB, f VoiceNoteFilter, offset, limit int, sortBy, sortOrder string) ([]domain.VoiceNote, error) {
	col, ok := voiceNoteSortColumns[sortBy]
	if !ok {
		col = "created_at"
	}
	dir := "desc"
	if strings.EqualFold(sortOrder, "asc") {
		dir = "asc"
	}

	var out []domain.VoiceNote
	err := applyVoiceNoteFilter(db.WithContext(ctx), f).
		Order(col + " " + dir).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteVoiceNote removes a voice note and its children (transcriptions,
// summaries, entity usage records) in one transaction. The aggregate row is
// soft-deleted for audit; children are removed outright. Returns ErrNotFound
// when the voice note does not exist.
func DeleteVoiceNote(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vn domain.VoiceNote
		if err := tx.Where("id = ?", id).First(&vn).Error; err != nil {
			return err
		}
		if err := tx.Where("voice_note_id = ?", id).Delete(&domain.EntityUsage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("voice_note_id = ?", id).Delete(&domain.Summary{}).Error; err != nil {
			return err
		}
		if err := tx.Where("voice_note_id = ?", id).Delete(&domain.Transcription{}).Error; err != nil {
			return err
		}
		return tx.Delete(&vn).Error
	})
}

// applyVoiceNoteFilter composes the WHERE clauses shared by Count and List.
// Tags are stored as a JSON array; membership is a substring match on the
// serialized form, which holds because tags are JSON-escaped strings.
func applyVoiceNoteFilter(q *gorm.DB, f VoiceNoteFilter) *gorm.DB {
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Tag != "" {
		q = q.Where(`tags LIKE ? ESCAPE '\'`, `%"`+escapeLike(f.Tag)+`"%`)
	}
	if f.Search != "" {
		pat := "%" + escapeLike(f.Search) + "%"
		q = q.Where(`(title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`, pat, pat)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	return q
}

// escapeLike neutralizes LIKE wildcards in user-supplied search terms.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
