package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"voicenote-backend/internal/repo"
)

var dbSeq atomic.Int64

// newTestDB opens a fresh in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svctest%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

const testSID = "2f8a1b3c-4d5e-4f60-8a9b-0c1d2e3f4a5b"

func TestNewAnonymousGate_DefaultLimit(t *testing.T) {
	g := NewAnonymousGate(nil, 0)
	if g.Limit != DefaultAnonymousLimit {
		t.Fatalf("limit = %d, want %d", g.Limit, DefaultAnonymousLimit)
	}
	g = NewAnonymousGate(nil, -3)
	if g.Limit != DefaultAnonymousLimit {
		t.Fatalf("negative limit should fall back, got %d", g.Limit)
	}
}

func TestAdmit_ConsumesOneUnitPerCall(t *testing.T) {
	g := NewAnonymousGate(newTestDB(t), 3)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		count, err := g.Admit(ctx, testSID)
		if err != nil {
			t.Fatalf("Admit %d: %v", want, err)
		}
		if count != want {
			t.Fatalf("counter after admit = %d, want %d", count, want)
		}
	}

	_, err := g.Admit(ctx, testSID)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected *QuotaExceededError, got %v", err)
	}
	if qe.UsageCount != 3 || qe.Limit != 3 {
		t.Fatalf("quota error payload: %+v", qe)
	}
}

func TestAdmit_RejectsMalformedSessionID(t *testing.T) {
	g := NewAnonymousGate(newTestDB(t), 3)
	for _, sid := range []string{"", "not-a-uuid", "1234"} {
		if _, err := g.Admit(context.Background(), sid); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Admit(%q) = %v, want ErrInvalidInput", sid, err)
		}
	}
}

func TestAdmit_ConcurrentAtLimit(t *testing.T) {
	const limit = 5
	g := NewAnonymousGate(newTestDB(t), limit)
	ctx := context.Background()

	var admitted, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Admit(ctx, testSID)
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.As(err, new(*QuotaExceededError)):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != limit {
		t.Fatalf("admitted = %d, want exactly %d", admitted.Load(), limit)
	}
	if rejected.Load() != 20-limit {
		t.Fatalf("rejected = %d, want %d", rejected.Load(), 20-limit)
	}
}

func TestAdmit_SessionsAreIndependent(t *testing.T) {
	g := NewAnonymousGate(newTestDB(t), 1)
	ctx := context.Background()

	if _, err := g.Admit(ctx, testSID); err != nil {
		t.Fatalf("first session: %v", err)
	}
	if _, err := g.Admit(ctx, "11111111-2222-3333-4444-555555555555"); err != nil {
		t.Fatalf("second session should have its own quota: %v", err)
	}
}

func TestProbe_NonMutating(t *testing.T) {
	db := newTestDB(t)
	g := NewAnonymousGate(db, 5)
	ctx := context.Background()

	// unknown session reports the full limit and creates nothing
	remaining, limit, err := g.Probe(ctx, testSID)
	if err != nil || remaining != 5 || limit != 5 {
		t.Fatalf("probe of unknown session: %d/%d %v", remaining, limit, err)
	}
	if _, err := repo.GetSession(ctx, db, testSID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("probe must not create a session record, got %v", err)
	}

	if _, err := g.Admit(ctx, testSID); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	remaining, _, err = g.Probe(ctx, testSID)
	if err != nil || remaining != 4 {
		t.Fatalf("probe after one admit: %d %v", remaining, err)
	}
	// probing twice reports the same number
	again, _, _ := g.Probe(ctx, testSID)
	if again != remaining {
		t.Fatalf("probe consumed quota: %d vs %d", again, remaining)
	}

	if _, _, err := g.Probe(ctx, "nope"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("malformed id should be ErrInvalidInput, got %v", err)
	}
}

func TestReset_ReopensTheGate(t *testing.T) {
	g := NewAnonymousGate(newTestDB(t), 1)
	ctx := context.Background()

	if _, err := g.Admit(ctx, testSID); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if _, err := g.Admit(ctx, testSID); err == nil {
		t.Fatalf("second admit should be rejected")
	}

	if err := g.Reset(ctx, testSID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := g.Admit(ctx, testSID); err != nil {
		t.Fatalf("admit after reset: %v", err)
	}

	if err := g.Reset(ctx, "11111111-2222-3333-4444-555555555555"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown session should be ErrSessionNotFound, got %v", err)
	}
	if err := g.Reset(ctx, "nope"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("malformed id should be ErrInvalidInput, got %v", err)
	}
}

func TestQuotaExceededError_Message(t *testing.T) {
	e := &QuotaExceededError{UsageCount: 5, Limit: 5}
	if e.Error() != "anonymous usage limit reached (5/5)" {
		t.Fatalf("message = %q", e.Error())
	}
}
