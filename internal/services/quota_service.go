// Package services – AnonymousGate
//
// This file implements the anonymous usage gate: a fixed quota of accepted
// uploads per anonymous session. Authenticated callers never pass through
// the gate. The session id is client-generated and untrusted; the gate only
// ever consults its own stored counter.
//
// Concurrency: admission is serialized per session id through the lock
// arena, and the increment itself is a guarded conditional UPDATE (see
// repo.IncrementSessionUsage), so two concurrent requests at limit-1 can
// never both be admitted even if the arena and the storage engine disagree
// about ordering.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"voicenote-backend/internal/repo"
)

// DefaultAnonymousLimit is the number of uploads an anonymous session may
// perform before it has to sign up.
const DefaultAnonymousLimit = 5

// AnonymousGate enforces the per-session upload quota.
type AnonymousGate struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Limit caps accepted uploads per session; values <= 0 fall back to
	// DefaultAnonymousLimit.
	Limit int

	locks *lockArena
}

// NewAnonymousGate constructs a gate with its own lock arena.
func NewAnonymousGate(db *gorm.DB, limit int) *AnonymousGate {
	if limit <= 0 {
		limit = DefaultAnonymousLimit
	}
	return &AnonymousGate{
		DB:    db,
		Limit: limit,
		locks: newLockArena(10 * time.Minute),
	}
}

// Admit decides whether one more upload from sessionID is allowed, and when
// it is, consumes one quota unit as part of the same decision. It returns
// the counter value after the increment.
//
// Errors:
//   - ErrInvalidInput when the session id is not a well-formed UUID.
//   - *QuotaExceededError when the stored counter has reached the limit.
func (g *AnonymousGate) Admit(ctx context.Context, sessionID string) (int, error) {
	tr := otel.Tracer("services/AnonymousGate")
	ctx, span := tr.Start(ctx, "Admit",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	if err := validateSessionID(sessionID); err != nil {
		return 0, err
	}

	release := g.locks.acquire("session:" + sessionID)
	defer release()

	s, err := repo.GetOrCreateSession(ctx, g.DB, sessionID)
	if err != nil {
		return 0, err
	}
	if s.UsageCount >= g.Limit {
		quotaRejections.Inc()
		return s.UsageCount, &QuotaExceededError{UsageCount: s.UsageCount, Limit: g.Limit}
	}

	applied, err := repo.IncrementSessionUsage(ctx, g.DB, sessionID, g.Limit)
	if err != nil {
		return 0, err
	}
	if !applied {
		// Lost a race despite the per-session lock (e.g., another process
		// sharing the database). The stored counter wins.
		quotaRejections.Inc()
		return g.Limit, &QuotaExceededError{UsageCount: g.Limit, Limit: g.Limit}
	}
	return s.UsageCount + 1, nil
}

// Probe reports the remaining quota without consuming any. Unknown sessions
// report the full limit; probing never creates a record.
func (g *AnonymousGate) Probe(ctx context.Context, sessionID string) (remaining, limit int, err error) {
	if err := validateSessionID(sessionID); err != nil {
		return 0, g.Limit, err
	}
	s, err := repo.GetSession(ctx, g.DB, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return g.Limit, g.Limit, nil
		}
		return 0, g.Limit, err
	}
	remaining = g.Limit - s.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, g.Limit, nil
}

// Reset zeroes a session's counter. This is the only path that ever lowers
// the counter and is reserved for administrative use.
func (g *AnonymousGate) Reset(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	release := g.locks.acquire("session:" + sessionID)
	defer release()

	if err := repo.ResetSessionUsage(ctx, g.DB, sessionID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// validateSessionID rejects session ids that are not well-formed random
// identifiers. Accepting arbitrary strings would let a caller mint unlimited
// fresh quotas from trivially enumerable ids.
func validateSessionID(sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return ErrInvalidInput
	}
	return nil
}
