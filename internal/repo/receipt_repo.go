// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the UploadReceipt
// model used to implement safe-retry semantics for the upload endpoint.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"voicenote-backend/internal/domain"
)

// ErrDuplicate indicates that an upload receipt already exists for the
// given (owner_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetUploadReceipt returns a non-expired receipt or ErrNotFound.
func GetUploadReceipt(ctx context.Context, db *gorm.DB, ownerID, key string, now time.Time) (*domain.UploadReceipt, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.UploadReceipt
	err := db.WithContext(ctx).
		Where("owner_id = ? AND key = ? AND expires_at > ?", ownerID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateUploadReceipt inserts a receipt and returns ErrDuplicate on unique violation.
func CreateUploadReceipt(ctx context.Context, db *gorm.DB, ownerID, key, voiceNoteID string, status int, ttl time.Duration) (*domain.UploadReceipt, error) {
	now := time.Now().UTC()
	rec := &domain.UploadReceipt{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Key:         key,
		VoiceNoteID: voiceNoteID,
		Status:      status,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
