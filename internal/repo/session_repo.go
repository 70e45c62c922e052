// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AnonymousSession quota records.
//
// The increment is a guarded conditional UPDATE so that quota enforcement
// does not depend on the storage engine's isolation level: two concurrent
// increments at usage_count = limit-1 cannot both succeed because the second
// one no longer matches the WHERE clause.
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

// GetSession fetches a session by its client-held session id, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.AnonymousSession, error) {
	var s domain.AnonymousSession
	err := db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreateSession returns the session for sessionID, lazily creating it
// with a zero counter on first sight. A concurrent create racing on the
// unique index is resolved by re-reading.
func GetOrCreateSession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.AnonymousSession, error) {
	s, err := GetSession(ctx, db, sessionID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := &domain.AnonymousSession{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		UsageCount: 0,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := db.WithContext(ctx).Create(fresh).Error; err != nil {
		if isUniqueViolation(err) {
			return GetSession(ctx, db, sessionID)
		}
		return nil, err
	}
	return fresh, nil
}

// IncrementSessionUsage bumps the counter by exactly one, but only while it
// is still below limit. It reports whether the increment was applied; false
// means the quota is exhausted (or the session vanished, which the caller
// already ruled out by GetOrCreateSession).
func IncrementSessionUsage(ctx context.Context, db *gorm.DB, sessionID string, limit int) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.AnonymousSession{}).
		Where("session_id = ? AND usage_count < ?", sessionID, limit).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ResetSessionUsage zeroes the counter. Administrative operation only; the
// gate itself never decrements. Returns ErrNotFound for unknown sessions.
func ResetSessionUsage(ctx context.Context, db *gorm.DB, sessionID string) error {
	res := db.WithContext(ctx).
		Model(&domain.AnonymousSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"usage_count":  0,
			"last_used_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation detects unique-constraint errors across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
