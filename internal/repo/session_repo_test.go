package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testSID = "2f8a1b3c-4d5e-4f60-8a9b-0c1d2e3f4a5b"

func TestGetOrCreateSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := GetOrCreateSession(ctx, db, testSID)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if s.SessionID != testSID || s.UsageCount != 0 {
		t.Fatalf("fresh session unexpected: %+v", s)
	}

	again, err := GetOrCreateSession(ctx, db, testSID)
	if err != nil {
		t.Fatalf("second GetOrCreateSession: %v", err)
	}
	if again.ID != s.ID {
		t.Fatalf("second call must return the same row")
	}
}

func TestIncrementSessionUsage_GuardAtLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	const limit = 3

	if _, err := GetOrCreateSession(ctx, db, testSID); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	for i := 0; i < limit; i++ {
		applied, err := IncrementSessionUsage(ctx, db, testSID, limit)
		if err != nil || !applied {
			t.Fatalf("increment %d: applied=%v err=%v", i, applied, err)
		}
	}
	// the guard stops the fourth increment
	applied, err := IncrementSessionUsage(ctx, db, testSID, limit)
	if err != nil {
		t.Fatalf("increment past limit: %v", err)
	}
	if applied {
		t.Fatalf("increment past the limit must not apply")
	}

	s, err := GetSession(ctx, db, testSID)
	if err != nil || s.UsageCount != limit {
		t.Fatalf("counter = %d, want %d (%v)", s.UsageCount, limit, err)
	}
}

func TestResetSessionUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := GetOrCreateSession(ctx, db, testSID); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := IncrementSessionUsage(ctx, db, testSID, 5); err != nil {
		t.Fatalf("increment: %v", err)
	}

	if err := ResetSessionUsage(ctx, db, testSID); err != nil {
		t.Fatalf("ResetSessionUsage: %v", err)
	}
	s, _ := GetSession(ctx, db, testSID)
	if s.UsageCount != 0 {
		t.Fatalf("counter should be zero after reset, got %d", s.UsageCount)
	}

	if err := ResetSessionUsage(ctx, db, "11111111-2222-3333-4444-555555555555"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session should be ErrNotFound, got %v", err)
	}
}

func TestUploadReceipts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// miss
	if _, err := GetUploadReceipt(ctx, db, "user:u1", "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss, got %v", err)
	}
	// blank key is always a miss
	if _, err := GetUploadReceipt(ctx, db, "user:u1", "  ", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank key should miss, got %v", err)
	}

	rec, err := CreateUploadReceipt(ctx, db, "user:u1", "k1", "vn-1", 201, time.Hour)
	if err != nil {
		t.Fatalf("CreateUploadReceipt: %v", err)
	}
	if rec.VoiceNoteID != "vn-1" || rec.Status != 201 {
		t.Fatalf("receipt unexpected: %+v", rec)
	}

	// hit
	got, err := GetUploadReceipt(ctx, db, "user:u1", "k1", now)
	if err != nil || got.ID != rec.ID {
		t.Fatalf("hit failed: %v %+v", err, got)
	}

	// same key under a different owner is independent
	if _, err := GetUploadReceipt(ctx, db, "session:"+testSID, "k1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("owner scoping broken, got %v", err)
	}

	// duplicate (owner, key)
	if _, err := CreateUploadReceipt(ctx, db, "user:u1", "k1", "vn-2", 201, time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// expiry
	if _, err := GetUploadReceipt(ctx, db, "user:u1", "k1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired receipt should miss, got %v", err)
	}
}
