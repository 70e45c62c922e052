package repo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"voicenote-backend/internal/domain"
)

var dbSeq atomic.Int64

// newTestDB opens a fresh in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repotest%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func strptr(s string) *string { return &s }

func seedNote(t *testing.T, db *gorm.DB, mutate func(*domain.VoiceNote)) *domain.VoiceNote {
	t.Helper()
	vn := &domain.VoiceNote{
		UserID:    strptr("u1"),
		Title:     "Standup notes",
		AudioPath: "blob.mp3",
		FileSize:  10,
		MimeType:  "audio/mpeg",
		Language:  "auto",
		Status:    domain.StatusPending,
		Version:   1,
	}
	if mutate != nil {
		mutate(vn)
	}
	if err := CreateVoiceNote(context.Background(), db, vn); err != nil {
		t.Fatalf("CreateVoiceNote: %v", err)
	}
	return vn
}

func TestCreateAndGetVoiceNote(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	vn := seedNote(t, db, nil)
	if vn.ID == "" {
		t.Fatalf("ID should be assigned on create")
	}

	got, err := GetVoiceNote(ctx, db, vn.ID)
	if err != nil {
		t.Fatalf("GetVoiceNote: %v", err)
	}
	if got.Title != "Standup notes" || got.Status != domain.StatusPending || got.Version != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := GetVoiceNote(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatus_GuardedTransition(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	vn := seedNote(t, db, nil)

	// pending -> processing: allowed
	if err := SetStatus(ctx, db, vn.ID, []string{domain.StatusPending}, domain.StatusProcessing, nil); err != nil {
		t.Fatalf("pending->processing: %v", err)
	}

	// pending -> processing again: current status no longer matches the guard
	err := SetStatus(ctx, db, vn.ID, []string{domain.StatusPending}, domain.StatusProcessing, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("guard should reject, got %v", err)
	}

	// processing -> failed stores the error message
	msg := "upstream exploded"
	if err := SetStatus(ctx, db, vn.ID, []string{domain.StatusProcessing}, domain.StatusFailed, &msg); err != nil {
		t.Fatalf("processing->failed: %v", err)
	}
	got, _ := GetVoiceNote(ctx, db, vn.ID)
	if got.Status != domain.StatusFailed || got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Fatalf("failed state not stored verbatim: %+v", got)
	}

	// failed -> processing clears the message
	if err := SetStatus(ctx, db, vn.ID, []string{domain.StatusFailed}, domain.StatusProcessing, nil); err != nil {
		t.Fatalf("failed->processing: %v", err)
	}
	got, _ = GetVoiceNote(ctx, db, vn.ID)
	if got.ErrorMessage != nil {
		t.Fatalf("error message should be cleared, got %v", *got.ErrorMessage)
	}

	// unknown id
	if err := SetStatus(ctx, db, "missing", []string{domain.StatusPending}, domain.StatusProcessing, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should be ErrNotFound, got %v", err)
	}
}

func TestBumpVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	vn := seedNote(t, db, nil)

	if err := BumpVersion(ctx, db, vn.ID); err != nil {
		t.Fatalf("BumpVersion: %v", err)
	}
	if err := BumpVersion(ctx, db, vn.ID); err != nil {
		t.Fatalf("BumpVersion: %v", err)
	}
	got, _ := GetVoiceNote(ctx, db, vn.ID)
	if got.Version != 3 {
		t.Fatalf("version = %d, want 3", got.Version)
	}
	if err := BumpVersion(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should be ErrNotFound, got %v", err)
	}
}

func TestUpdateVoiceNoteOptions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	vn := seedNote(t, db, func(v *domain.VoiceNote) {
		v.WhisperPrompt = strptr("old hint")
	})

	err := UpdateVoiceNoteOptions(ctx, db, vn.ID, map[string]any{
		"language":       "pl",
		"whisper_prompt": nil, // clear
	})
	if err != nil {
		t.Fatalf("UpdateVoiceNoteOptions: %v", err)
	}
	got, _ := GetVoiceNote(ctx, db, vn.ID)
	if got.Language != "pl" || got.WhisperPrompt != nil {
		t.Fatalf("options not applied: %+v", got)
	}

	// empty update map is a no-op, even for unknown ids
	if err := UpdateVoiceNoteOptions(ctx, db, "missing", nil); err != nil {
		t.Fatalf("empty update should be a no-op: %v", err)
	}
	if err := UpdateVoiceNoteOptions(ctx, db, "missing", map[string]any{"language": "en"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should be ErrNotFound, got %v", err)
	}
}

func TestListAndCountVoiceNotes_Filters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedNote(t, db, func(v *domain.VoiceNote) {
		v.Title = "Grocery run"
		v.Tags = []string{"errands", "home"}
	})
	seedNote(t, db, func(v *domain.VoiceNote) {
		v.Title = "Quarterly planning"
		v.Description = "roadmap discussion"
		v.Tags = []string{"work"}
		v.Status = domain.StatusCompleted
	})
	seedNote(t, db, func(v *domain.VoiceNote) {
		v.UserID = nil
		v.SessionID = strptr("7f6e5d4c-3b2a-4190-8071-625344332211")
		v.Title = "Anonymous memo"
	})

	// owner scope
	n, err := CountVoiceNotes(ctx, db, VoiceNoteFilter{UserID: "u1"})
	if err != nil || n != 2 {
		t.Fatalf("count by user = %d, %v", n, err)
	}
	n, err = CountVoiceNotes(ctx, db, VoiceNoteFilter{SessionID: "7f6e5d4c-3b2a-4190-8071-625344332211"})
	if err != nil || n != 1 {
		t.Fatalf("count by session = %d, %v", n, err)
	}

	// status
	n, _ = CountVoiceNotes(ctx, db, VoiceNoteFilter{Status: domain.StatusCompleted})
	if n != 1 {
		t.Fatalf("count by status = %d", n)
	}

	// tag membership
	n, _ = CountVoiceNotes(ctx, db, VoiceNoteFilter{Tag: "work"})
	if n != 1 {
		t.Fatalf("count by tag = %d", n)
	}

	// search over title and description
	n, _ = CountVoiceNotes(ctx, db, VoiceNoteFilter{Search: "roadmap"})
	if n != 1 {
		t.Fatalf("count by search = %d", n)
	}
	// LIKE wildcards in the search term must not act as wildcards
	n, _ = CountVoiceNotes(ctx, db, VoiceNoteFilter{Search: "%"})
	if n != 0 {
		t.Fatalf("literal %% should match nothing, got %d", n)
	}

	// paging
	page, err := ListVoiceNotesPage(ctx, db, VoiceNoteFilter{UserID: "u1"}, 0, 1, "title", "asc")
	if err != nil || len(page) != 1 {
		t.Fatalf("page: %v %d", err, len(page))
	}
	if page[0].Title != "Grocery run" {
		t.Fatalf("title asc should come first: %q", page[0].Title)
	}
}

func TestDeleteVoiceNote_CascadesAndSoftDeletes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	vn := seedNote(t, db, nil)

	if err := CreateTranscription(ctx, db, &domain.Transcription{VoiceNoteID: vn.ID, Text: "x", Language: "en", Model: "m"}); err != nil {
		t.Fatalf("CreateTranscription: %v", err)
	}
	if err := CreateSummary(ctx, db, &domain.Summary{VoiceNoteID: vn.ID, Text: "s", Language: "en"}); err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}
	ent := &domain.Entity{OwnerID: "u1", Name: "Anna", Type: "person"}
	if err := CreateEntity(ctx, db, ent); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := InsertUsageBatch(ctx, db, []domain.EntityUsage{{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: true}}); err != nil {
		t.Fatalf("InsertUsageBatch: %v", err)
	}

	if err := DeleteVoiceNote(ctx, db, vn.ID); err != nil {
		t.Fatalf("DeleteVoiceNote: %v", err)
	}

	// default scope no longer sees the soft-deleted row
	if _, err := GetVoiceNote(ctx, db, vn.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("soft-deleted note should be invisible, got %v", err)
	}
	// but the row is retained
	var n int64
	db.Unscoped().Model(&domain.VoiceNote{}).Where("id = ?", vn.ID).Count(&n)
	if n != 1 {
		t.Fatalf("soft-deleted row should survive, count = %d", n)
	}

	// children are removed outright
	tc, sc, err := CountArtifacts(ctx, db, vn.ID)
	if err != nil || tc != 0 || sc != 0 {
		t.Fatalf("artifacts should be gone: %d %d %v", tc, sc, err)
	}
	usages, _ := UsageByVoiceNote(ctx, db, vn.ID)
	if len(usages) != 0 {
		t.Fatalf("usage rows should be gone, got %d", len(usages))
	}

	if err := DeleteVoiceNote(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should be ErrNotFound, got %v", err)
	}
}

func TestVoiceNotesStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	count, maxUpdated, err := VoiceNotesStats(ctx, db, VoiceNoteFilter{UserID: "u1"})
	if err != nil || count != 0 || maxUpdated != nil {
		t.Fatalf("empty stats: %d %v %v", count, maxUpdated, err)
	}

	seedNote(t, db, nil)
	seedNote(t, db, nil)

	count, maxUpdated, err = VoiceNotesStats(ctx, db, VoiceNoteFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("VoiceNotesStats: %v", err)
	}
	if count != 2 || maxUpdated == nil || maxUpdated.IsZero() {
		t.Fatalf("stats unexpected: %d %v", count, maxUpdated)
	}
}

func TestEscapeLike(t *testing.T) {
	if escapeLike(`50%_done`) != `50\%\_done` {
		t.Fatalf("escapeLike = %q", escapeLike(`50%_done`))
	}
}
