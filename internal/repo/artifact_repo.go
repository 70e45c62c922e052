// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the immutable
// processing artifacts: Transcription and Summary rows. Artifacts are
// append-only; reprocessing and regeneration insert new rows and the latest
// row per voice note is the current one.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"voicenote-backend/internal/domain"
)

// CreateTranscription appends a transcription row for the given voice note.
func CreateTranscription(ctx context.Context, db *gorm.DB, t *domain.Transcription) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(t).Error
}

// LatestTranscription returns the most recent transcription for a voice
// note, or ErrNotFound when none exists yet.
func LatestTranscription(ctx context.Context, db *gorm.DB, voiceNoteID string) (*domain.Transcription, error) {
	var t domain.Transcription
	err := db.WithContext(ctx).
		Where("voice_note_id = ?", voiceNoteID).
		Order("created_at desc").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTranscriptions returns the full transcription history for a voice
// note, most recent first.
func ListTranscriptions(ctx context.Context, db *gorm.DB, voiceNoteID string) ([]domain.Transcription, error) {
	var out []domain.Transcription
	err := db.WithContext(ctx).
		Where("voice_note_id = ?", voiceNoteID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CreateSummary appends a summary row for the given voice note.
func CreateSummary(ctx context.Context, db *gorm.DB, s *domain.Summary) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(s).Error
}

// LatestSummary returns the most recent summary for a voice note, or
// ErrNotFound when none exists yet.
func LatestSummary(ctx context.Context, db *gorm.DB, voiceNoteID string) (*domain.Summary, error) {
	var s domain.Summary
	err := db.WithContext(ctx).
		Where("voice_note_id = ?", voiceNoteID).
		Order("created_at desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSummaries returns the full summary history for a voice note, most
// recent first.
func ListSummaries(ctx context.Context, db *gorm.DB, voiceNoteID string) ([]domain.Summary, error) {
	var out []domain.Summary
	err := db.WithContext(ctx).
		Where("voice_note_id = ?", voiceNoteID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountArtifacts returns how many transcriptions and summaries exist for a
// voice note. Used by list projections to surface has_transcription /
// has_summary flags without loading the heavy rows.
func CountArtifacts(ctx context.Context, db *gorm.DB, voiceNoteID string) (transcriptions, summaries int64, err error) {
	if err = db.WithContext(ctx).Model(&domain.Transcription{}).
		Where("voice_note_id = ?", voiceNoteID).Count(&transcriptions).Error; err != nil {
		return 0, 0, err
	}
	err = db.WithContext(ctx).Model(&domain.Summary{}).
		Where("voice_note_id = ?", voiceNoteID).Count(&summaries).Error
	return transcriptions, summaries, err
}
