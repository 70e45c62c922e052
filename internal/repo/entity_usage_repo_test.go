package repo

import (
	"context"
	"errors"
	"testing"

	"voicenote-backend/internal/domain"
)

func TestInsertUsageBatch_AllOrNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	vn := seedNote(t, db, nil)
	ent := &domain.Entity{OwnerID: "u1", Name: "Anna", Type: "person"}
	if err := CreateEntity(ctx, db, ent); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	// empty batch touches nothing
	if err := InsertUsageBatch(ctx, db, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	rows := []domain.EntityUsage{
		{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: true},
		{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: false},
	}
	if err := InsertUsageBatch(ctx, db, rows); err != nil {
		t.Fatalf("InsertUsageBatch: %v", err)
	}
	for _, r := range rows {
		if r.ID == "" || r.CreatedAt.IsZero() {
			t.Fatalf("batch insert should assign id and timestamp: %+v", r)
		}
	}

	got, err := UsageByVoiceNote(ctx, db, vn.ID)
	if err != nil || len(got) != 2 {
		t.Fatalf("UsageByVoiceNote: %v %d", err, len(got))
	}
	if got[0].Entity.Name != "Anna" {
		t.Fatalf("entity should be preloaded, got %+v", got[0].Entity)
	}

	byEnt, err := UsageByEntity(ctx, db, ent.ID)
	if err != nil || len(byEnt) != 2 {
		t.Fatalf("UsageByEntity: %v %d", err, len(byEnt))
	}
}

func TestUpdateUsageCorrection_IdempotentOverwrite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	vn := seedNote(t, db, nil)
	ent := &domain.Entity{OwnerID: "u1", Name: "Kraków", Type: "place"}
	if err := CreateEntity(ctx, db, ent); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	rows := []domain.EntityUsage{{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: true}}
	if err := InsertUsageBatch(ctx, db, rows); err != nil {
		t.Fatalf("InsertUsageBatch: %v", err)
	}
	id := rows[0].ID

	orig, corr := "Crackow", "Kraków"
	if err := UpdateUsageCorrection(ctx, db, id, true, &orig, &corr); err != nil {
		t.Fatalf("UpdateUsageCorrection: %v", err)
	}
	// repeating the identical call succeeds and leaves the same state
	if err := UpdateUsageCorrection(ctx, db, id, true, &orig, &corr); err != nil {
		t.Fatalf("repeat UpdateUsageCorrection: %v", err)
	}

	got, _ := UsageByEntity(ctx, db, ent.ID)
	if len(got) != 1 || !got[0].WasCorrected || *got[0].OriginalText != orig || *got[0].CorrectedText != corr {
		t.Fatalf("correction not stored: %+v", got)
	}

	// a correction can be withdrawn by overwriting with nil texts
	if err := UpdateUsageCorrection(ctx, db, id, false, nil, nil); err != nil {
		t.Fatalf("withdraw correction: %v", err)
	}
	got, _ = UsageByEntity(ctx, db, ent.ID)
	if got[0].WasCorrected || got[0].OriginalText != nil || got[0].CorrectedText != nil {
		t.Fatalf("withdrawal should clear all fields: %+v", got[0])
	}

	if err := UpdateUsageCorrection(ctx, db, "missing", false, nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should be ErrNotFound, got %v", err)
	}
}

func TestEntityUsageStats_Aggregation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	vn := seedNote(t, db, nil)
	ent := &domain.Entity{OwnerID: "u1", Name: "roadmap", Type: "term"}
	if err := CreateEntity(ctx, db, ent); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	// no history: all zeros
	agg, err := EntityUsageStats(ctx, db, ent.ID)
	if err != nil || agg.TotalUsage != 0 || agg.CorrectUsage != 0 || agg.CorrectedCount != 0 {
		t.Fatalf("empty aggregation: %+v %v", agg, err)
	}

	orig, corr := "road map", "roadmap"
	rows := []domain.EntityUsage{
		{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: true},                                                               // correct
		{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: true},                                                               // correct
		{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: true, WasCorrected: true, OriginalText: &orig, CorrectedText: &corr}, // corrected
		{EntityID: ent.ID, VoiceNoteID: vn.ID, WasUsed: false},                                                              // offered, unused
	}
	if err := InsertUsageBatch(ctx, db, rows); err != nil {
		t.Fatalf("InsertUsageBatch: %v", err)
	}

	agg, err = EntityUsageStats(ctx, db, ent.ID)
	if err != nil {
		t.Fatalf("EntityUsageStats: %v", err)
	}
	if agg.TotalUsage != 4 || agg.CorrectUsage != 2 || agg.CorrectedCount != 1 {
		t.Fatalf("aggregation unexpected: %+v", agg)
	}
}

func TestListEntitiesForOwner_OrderedByName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "midway"} {
		if err := CreateEntity(ctx, db, &domain.Entity{OwnerID: "u1", Name: name, Type: "term"}); err != nil {
			t.Fatalf("CreateEntity(%s): %v", name, err)
		}
	}
	if err := CreateEntity(ctx, db, &domain.Entity{OwnerID: "other", Name: "aaa", Type: "term"}); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	got, err := ListEntitiesForOwner(ctx, db, "u1")
	if err != nil || len(got) != 3 {
		t.Fatalf("ListEntitiesForOwner: %v %d", err, len(got))
	}
	if got[0].Name != "alpha" || got[2].Name != "zeta" {
		t.Fatalf("ordering unexpected: %v", []string{got[0].Name, got[1].Name, got[2].Name})
	}
}
