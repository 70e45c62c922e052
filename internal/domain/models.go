// Package domain defines the persistence models for voice notes and their
// processing artifacts. These types are mapped with GORM and form the core
// data layer of the voice-note backend: the VoiceNote aggregate, its
// immutable Transcription and Summary children, recognized Entities with
// their per-run usage records, and the AnonymousSession quota counter.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Processing states of a VoiceNote. Transitions are owned exclusively by the
// lifecycle service; see ValidTransition for the allowed edges.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ValidTransition reports whether a voice note may move from one processing
// status to another. The machine is:
//
//	pending    → processing
//	failed     → processing   (retry)
//	completed  → processing   (reprocess)
//	processing → completed
//	processing → failed
//
// Every other edge, including self-transitions, is rejected.
func ValidTransition(from, to string) bool {
	switch to {
	case StatusProcessing:
		return from == StatusPending || from == StatusFailed || from == StatusCompleted
	case StatusCompleted, StatusFailed:
		return from == StatusProcessing
	default:
		return false
	}
}

// VoiceNote is the central aggregate: one uploaded audio item plus its
// processing history. Exactly one of UserID/SessionID is set, enforced both
// in the service layer and by a DB check constraint.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID / SessionID: owner identity; authenticated user or anonymous
//     session, never both, never neither.
//   - AudioPath / FileSize / MimeType: the stored blob reference. Audio is
//     treated as opaque bytes; only the MIME type is validated.
//   - Language: requested language ("auto" for auto-detect, else a BCP 47
//     primary subtag such as "en" or "pl").
//   - TranscriptionModel / SummaryModel: chosen backend model identifiers.
//   - WhisperPrompt: free-text hint consumed by hint-style transcribers.
//   - SystemPrompt / UserPrompt: prompt pair consumed by chat-style backends.
//   - Status / ErrorMessage: lifecycle state; ErrorMessage is set only while
//     Status is "failed" and preserves the provider error verbatim.
//   - Version: strictly increases on every reprocess/regenerate.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type VoiceNote struct {
	ID        string  `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    *string `json:"user_id,omitempty"    gorm:"type:varchar(64);index:idx_owner_user;check:chk_vn_owner,(user_id IS NULL) <> (session_id IS NULL)"`
	SessionID *string `json:"session_id,omitempty" gorm:"type:char(36);index:idx_owner_session"`

	Title       string   `json:"title"       gorm:"type:varchar(255);not null;default:'New voice note'"`
	Description string   `json:"description" gorm:"type:text"`
	Tags        []string `json:"tags"        gorm:"serializer:json"`

	AudioPath string `json:"-"          gorm:"type:text;not null"`
	FileSize  int64  `json:"file_size"  gorm:"not null"`
	MimeType  string `json:"mime_type"  gorm:"type:varchar(64);not null"`

	Language           string  `json:"language"            gorm:"type:varchar(16);not null;default:'auto'"`
	TranscriptionModel string  `json:"transcription_model" gorm:"type:varchar(64)"`
	SummaryModel       string  `json:"summary_model"       gorm:"type:varchar(64)"`
	WhisperPrompt      *string `json:"whisper_prompt,omitempty" gorm:"type:text"`
	SystemPrompt       *string `json:"system_prompt,omitempty"  gorm:"type:text"`
	UserPrompt         *string `json:"user_prompt,omitempty"    gorm:"type:text"`

	Status       string  `json:"status" gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','processing','completed','failed')"`
	ErrorMessage *string `json:"error_message,omitempty" gorm:"type:text"`
	Version      int     `json:"version" gorm:"not null;default:1"`

	CreatedAt time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for VoiceNote.
func (VoiceNote) TableName() string { return "voice_notes" }

// Transcription is an immutable record of one successful speech-to-text run.
// Reprocessing appends a new row; earlier rows are superseded, never mutated.
type Transcription struct {
	ID          string  `json:"id"            gorm:"type:char(36);primaryKey"`
	VoiceNoteID string  `json:"voice_note_id" gorm:"type:char(36);not null;index:idx_vn_transcriptions,priority:1"`
	Text        string  `json:"text"          gorm:"type:text;not null"`
	Language    string  `json:"language"      gorm:"type:varchar(16);not null"`
	Duration    float64 `json:"duration"` // seconds
	Confidence  float64 `json:"confidence"    gorm:"check:confidence >= 0 AND confidence <= 1"`
	Model       string  `json:"model"         gorm:"type:varchar(64);not null"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_vn_transcriptions,priority:2"`

	// VoiceNote is the parent aggregate. Transcriptions are cascade-deleted
	// when their voice note is removed.
	VoiceNote VoiceNote `json:"-" gorm:"foreignKey:VoiceNoteID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Transcription.
func (Transcription) TableName() string { return "transcriptions" }

// Summary is an immutable record of one successful summarization run.
// Regeneration appends a new row next to the previous ones.
type Summary struct {
	ID          string   `json:"id"            gorm:"type:char(36);primaryKey"`
	VoiceNoteID string   `json:"voice_note_id" gorm:"type:char(36);not null;index:idx_vn_summaries,priority:1"`
	Text        string   `json:"text"          gorm:"type:text;not null"`
	KeyPoints   []string `json:"key_points,omitempty"   gorm:"serializer:json"`
	ActionItems []string `json:"action_items,omitempty" gorm:"serializer:json"`
	Language    string   `json:"language"      gorm:"type:varchar(16);not null"`
	PromptUsed  string   `json:"prompt_used"   gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_vn_summaries,priority:2"`

	VoiceNote VoiceNote `json:"-" gorm:"foreignKey:VoiceNoteID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Summary.
func (Summary) TableName() string { return "summaries" }

// Entity is a named thing (person, place, domain term) the system can
// recognize across voice notes belonging to one owner.
type Entity struct {
	ID          string `json:"id"    gorm:"type:char(36);primaryKey"`
	OwnerID     string `json:"owner_id" gorm:"type:varchar(64);not null;index"`
	Name        string `json:"name"  gorm:"type:varchar(255);not null"`
	Type        string `json:"type"  gorm:"type:varchar(32);not null;check:type IN ('person','place','term')"`
	Description string `json:"description,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Entity.
func (Entity) TableName() string { return "entities" }

// EntityUsage records one entity's appearance in one processing run. Rows are
// inserted in bulk when a run completes and may later receive a single
// correction update; they are removed only together with the voice note.
//
// Invariant: WasCorrected implies OriginalText and CorrectedText are both
// present and differ (validated in the service layer).
type EntityUsage struct {
	ID            string  `json:"id"            gorm:"type:char(36);primaryKey"`
	EntityID      string  `json:"entity_id"     gorm:"type:char(36);not null;index"`
	VoiceNoteID   string  `json:"voice_note_id" gorm:"type:char(36);not null;index"`
	ProjectID     *string `json:"project_id,omitempty" gorm:"type:char(36)"`
	WasUsed       bool    `json:"was_used"      gorm:"not null;default:false"`
	WasCorrected  bool    `json:"was_corrected" gorm:"not null;default:false"`
	OriginalText  *string `json:"original_text,omitempty"  gorm:"type:text"`
	CorrectedText *string `json:"corrected_text,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`

	Entity    Entity    `json:"entity,omitempty" gorm:"foreignKey:EntityID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	VoiceNote VoiceNote `json:"-" gorm:"foreignKey:VoiceNoteID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for EntityUsage.
func (EntityUsage) TableName() string { return "entity_usages" }

// AnonymousSession is the quota record for one unauthenticated caller. The
// session id is client-generated and opaque; the stored UsageCount is the
// only counter the gate trusts.
type AnonymousSession struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	SessionID  string    `json:"session_id"  gorm:"type:char(36);not null;uniqueIndex:ux_anon_session"`
	UsageCount int       `json:"usage_count" gorm:"not null;default:0;check:usage_count >= 0"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// TableName returns the database table name for AnonymousSession.
func (AnonymousSession) TableName() string { return "anonymous_sessions" }
