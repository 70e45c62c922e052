// Package services – UsageService
//
// The entity usage tracker records, per processing run, which of the owner's
// known entities were offered to the pipeline and which actually appeared in
// the output. Rows are append-only history; the one permitted mutation is a
// correction update on a single row. Aggregate accuracy statistics are
// computed on read and never stored.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"voicenote-backend/internal/domain"
	"voicenote-backend/internal/repo"
)

// UsageRecord is one entity's outcome in a processing run, as reported by
// the pipeline (or by a client reviewing a transcript).
type UsageRecord struct {
	EntityID      string
	ProjectID     *string // optional project grouping reference
	WasUsed       bool
	WasCorrected  bool
	OriginalText  *string
	CorrectedText *string
}

// EntityStats is the on-read aggregate for one entity.
//
// CorrectUsage counts rows that were used and never corrected. Rows that
// were corrected without being marked used do not count toward CorrectUsage,
// so TotalUsage >= CorrectUsage + CorrectedCount does not hold in general;
// the three counters are independent views of the same history.
type EntityStats struct {
	EntityID       string  `json:"entity_id"`
	TotalUsage     int64   `json:"total_usage"`
	CorrectUsage   int64   `json:"correct_usage"`
	CorrectedCount int64   `json:"corrected_count"`
	CorrectionRate float64 `json:"correction_rate"` // percentage, 0 when no history
}

// UsageService implements entity usage tracking on top of the repo layer.
type UsageService struct {
	DB *gorm.DB
}

// NewUsageService constructs a UsageService.
func NewUsageService(db *gorm.DB) *UsageService {
	return &UsageService{DB: db}
}

// TrackUsage bulk-inserts one run's usage records for a voice note. The
// batch applies all-or-nothing; an empty batch is a successful no-op and
// touches nothing.
//
// Re-runs of the same voice note append new rows rather than replacing the
// previous run's, so history survives reprocessing.
func (s *UsageService) TrackUsage(ctx context.Context, voiceNoteID string, records []UsageRecord) error {
	tr := otel.Tracer("services/UsageService")
	ctx, span := tr.Start(ctx, "TrackUsage",
		trace.WithAttributes(
			attribute.String("voicenote.id", voiceNoteID),
			attribute.Int("usage.count", len(records)),
		),
	)
	defer span.End()

	if len(records) == 0 {
		return nil
	}
	if voiceNoteID == "" {
		return ErrInvalidInput
	}
	rows := make([]domain.EntityUsage, 0, len(records))
	for _, r := range records {
		if r.EntityID == "" {
			return ErrInvalidInput
		}
		if err := validateCorrection(r.WasCorrected, r.OriginalText, r.CorrectedText); err != nil {
			return err
		}
		rows = append(rows, domain.EntityUsage{
			EntityID:      r.EntityID,
			VoiceNoteID:   voiceNoteID,
			ProjectID:     r.ProjectID,
			WasUsed:       r.WasUsed,
			WasCorrected:  r.WasCorrected,
			OriginalText:  r.OriginalText,
			CorrectedText: r.CorrectedText,
		})
	}
	if err := repo.InsertUsageBatch(ctx, s.DB, rows); err != nil {
		log.Error().Err(err).Str("voice_note_id", voiceNoteID).Msg("usage batch insert failed")
		return err
	}
	return nil
}

// CreateEntity registers a new recognized entity for an owner. Type must be
// one of person, place, term.
func (s *UsageService) CreateEntity(ctx context.Context, ownerID, name, entityType, description string) (*domain.Entity, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return nil, ErrInvalidInput
	}
	switch entityType {
	case "person", "place", "term":
	default:
		return nil, ErrInvalidInput
	}
	e := &domain.Entity{
		OwnerID:     ownerID,
		Name:        name,
		Type:        entityType,
		Description: description,
	}
	if err := repo.CreateEntity(ctx, s.DB, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEntities returns an owner's recognized entities, ordered by name.
func (s *UsageService) ListEntities(ctx context.Context, ownerID string) ([]domain.Entity, error) {
	return repo.ListEntitiesForOwner(ctx, s.DB, ownerID)
}

// FindByVoiceNote returns the usage history of one voice note, oldest first,
// with each row's entity preloaded.
func (s *UsageService) FindByVoiceNote(ctx context.Context, voiceNoteID string) ([]domain.EntityUsage, error) {
	return repo.UsageByVoiceNote(ctx, s.DB, voiceNoteID)
}

// FindByEntity returns one entity's usage history across voice notes.
func (s *UsageService) FindByEntity(ctx context.Context, entityID string) ([]domain.EntityUsage, error) {
	return repo.UsageByEntity(ctx, s.DB, entityID)
}

// UpdateCorrection records (or re-records) a correction on one usage row.
// The update overwrites all three correction fields, so repeating the same
// call is idempotent.
//
// Errors:
//   - ErrInvalidInput when wasCorrected is set without both texts, or when
//     the two texts are equal.
//   - ErrUsageNotFound when the usage id is unknown.
func (s *UsageService) UpdateCorrection(ctx context.Context, usageID string, wasCorrected bool, originalText, correctedText *string) error {
	if usageID == "" {
		return ErrInvalidInput
	}
	if err := validateCorrection(wasCorrected, originalText, correctedText); err != nil {
		return err
	}
	err := repo.UpdateUsageCorrection(ctx, s.DB, usageID, wasCorrected, originalText, correctedText)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUsageNotFound
	}
	return err
}

// GetUsageStats computes one entity's accuracy counters from its full usage
// history. An entity with no history reports all zeros, including a zero
// correction rate. Returns ErrEntityNotFound when the entity id is unknown.
func (s *UsageService) GetUsageStats(ctx context.Context, entityID string) (EntityStats, error) {
	if entityID == "" {
		return EntityStats{}, ErrInvalidInput
	}
	var ent domain.Entity
	if err := s.DB.WithContext(ctx).Where("id = ?", entityID).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return EntityStats{}, ErrEntityNotFound
		}
		return EntityStats{}, err
	}

	agg, err := repo.EntityUsageStats(ctx, s.DB, entityID)
	if err != nil {
		return EntityStats{}, err
	}
	stats := EntityStats{
		EntityID:       entityID,
		TotalUsage:     agg.TotalUsage,
		CorrectUsage:   agg.CorrectUsage,
		CorrectedCount: agg.CorrectedCount,
	}
	if agg.TotalUsage > 0 {
		stats.CorrectionRate = float64(agg.CorrectedCount) / float64(agg.TotalUsage) * 100
	}
	return stats, nil
}

// validateCorrection enforces the correction invariant: a corrected row must
// carry both the original and the corrected text, and they must differ.
// Uncorrected rows may carry either text freely (e.g., the matched surface
// form without a correction).
func validateCorrection(wasCorrected bool, originalText, correctedText *string) error {
	if !wasCorrected {
		return nil
	}
	if originalText == nil || correctedText == nil {
		return ErrInvalidInput
	}
	if *originalText == *correctedText {
		return ErrInvalidInput
	}
	return nil
}
