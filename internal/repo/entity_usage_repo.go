// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Entity rows
// and their per-run EntityUsage records.
//
// Usage rows are append-only history: multiple runs against the same entity
// and voice note are legitimate and are never deduplicated. The only
// permitted mutation is the correction update on a single existing row.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"voicenote-backend/internal/domain"
)

// CreateEntity inserts a new recognized entity for an owner.
func CreateEntity(ctx context.Context, db *gorm.DB, e *domain.Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

// ListEntitiesForOwner returns all entities belonging to an owner identity,
// ordered by name for stable prompt context.
func ListEntitiesForOwner(ctx context.Context, db *gorm.DB, ownerID string) ([]domain.Entity, error) {
	var out []domain.Entity
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name asc").
		Find(&out).Error
	return out, err
}

// InsertUsageBatch inserts all usage records in a single statement so the
// batch applies all-or-nothing. IDs and timestamps are assigned here when
// unset. Empty input is a no-op.
func InsertUsageBatch(ctx context.Context, db *gorm.DB, records []domain.EntityUsage) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = now
		}
	}
	return db.WithContext(ctx).Create(&records).Error
}

// UsageByVoiceNote returns the usage records of one voice note joined with
// their entity.
func UsageByVoiceNote(ctx context.Context, db *gorm.DB, voiceNoteID string) ([]domain.EntityUsage, error) {
	var out []domain.EntityUsage
	err := db.WithContext(ctx).
		Preload("Entity").
		Where("voice_note_id = ?", voiceNoteID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// UsageByEntity returns the usage records of one entity across voice notes.
func UsageByEntity(ctx context.Context, db *gorm.DB, entityID string) ([]domain.EntityUsage, error) {
	var out []domain.EntityUsage
	err := db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// UpdateUsageCorrection overwrites the correction fields of one usage row.
// The write is a full overwrite of all three fields, which makes repeated
// calls with the same arguments idempotent. Returns ErrNotFound when the
// usage id is unknown.
func UpdateUsageCorrection(ctx context.Context, db *gorm.DB, usageID string, wasCorrected bool, originalText, correctedText *string) error {
	res := db.WithContext(ctx).
		Model(&domain.EntityUsage{}).
		Where("id = ?", usageID).
		Updates(map[string]any{
			"was_corrected":  wasCorrected,
			"original_text":  originalText,
			"corrected_text": correctedText,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UsageStats holds the aggregate usage counters for one entity. All three
// values are computed on read; nothing is stored.
type UsageStats struct {
	TotalUsage     int64
	CorrectUsage   int64 // used and never corrected
	CorrectedCount int64
}

// EntityUsageStats aggregates usage counters for one entity in a single
// scan. The caller derives the correction rate from the counters.
func EntityUsageStats(ctx context.Context, db *gorm.DB, entityID string) (UsageStats, error) {
	var row struct {
		Total     int64
		Correct   int64
		Corrected int64
	}
	err := db.WithContext(ctx).
		Model(&domain.EntityUsage{}).
		Select(
			"COUNT(*) AS total, "+
				"SUM(CASE WHEN was_used AND NOT was_corrected THEN 1 ELSE 0 END) AS correct, "+
				"SUM(CASE WHEN was_corrected THEN 1 ELSE 0 END) AS corrected").
		Where("entity_id = ?", entityID).
		Scan(&row).Error
	if err != nil {
		return UsageStats{}, err
	}
	return UsageStats{
		TotalUsage:     row.Total,
		CorrectUsage:   row.Correct,
		CorrectedCount: row.Corrected,
	}, nil
}
