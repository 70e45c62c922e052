// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// UploadReceipt records the outcome of a previously accepted upload, keyed by
// (owner_id, key). It enables safe client retries of the upload endpoint by
// replaying the originally created voice note instead of accepting the audio
// (and consuming anonymous quota) a second time.
type UploadReceipt struct {
	ID          string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	OwnerID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_key,priority:1"`
	Key         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_key,priority:2"`
	VoiceNoteID string    `gorm:"type:TEXT NOT NULL"`
	Status      int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt   time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt   time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (UploadReceipt) TableName() string { return "upload_receipts" }
