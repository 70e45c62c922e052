// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for upload endpoints. Audio
// uploads are expensive to repeat (storage plus a provider pipeline run), so
// clients may send an Idempotency-Key with POST /voicenotes and retries are
// answered from the stored upload receipt instead of creating a second note.
//
// The middleware validates the header, performs an optional receipt lookup
// scoped to the caller's identity, and annotates the request context so
// downstream handlers can:
//   - read the normalized key (GetIdempotencyKey)
//   - detect replayed requests (IsReplay)
//   - bypass rate limiting when a replay is served (via an internal flag)
//
// Persistence stays behind the narrow ReceiptLookup function type; the
// middleware never touches the database directly.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header that clients use to convey an
// idempotency key for uploads. The value is expected to be stable for a
// given semantic upload so that retries (network, client, or server
// initiated) can be safely deduplicated.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
// These keys are intentionally unexported and referenced via accessor helpers.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored receipt exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
//
// Handlers should prefer this function over reading the header directly.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware found an existing upload receipt
// for (owner, key), meaning this request retries an upload that already
// completed.
//
// When true, handlers should serve the previously created voice note instead
// of storing a second copy, and the rate limiter skips the request.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation behavior for
// IdempotencyValidator. Receipt TTL enforcement lives inside the lookup,
// not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// ReceiptLookup answers whether a still-valid upload receipt exists for
// (ownerID, key) at the given time. Implementations typically consult the
// upload_receipts table, which records the created voice note and an expiry
// window.
//
// Return exists=true when the prior upload can be replayed; return an error
// only for lookup failures (which must not block normal processing).
type ReceiptLookup func(ctx context.Context, ownerID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header (if present),
// stashes it in the request context, and optionally checks for a prior
// completed upload via the supplied lookup. When a replay is detected, it
// marks the context so downstream components can:
//   - detect replay via IsReplay
//   - bypass rate limiting (internal flag checked by the RL middleware)
//
// Behavior:
//   - If header is absent: the middleware is a no-op.
//   - If header fails validation: responds 400 with a compact error body.
//   - If lookup indicates a replay: sets replay + rate-bypass flags.
//   - Always invokes the next handler unless validation fails.
//
// This middleware does not itself return a cached payload; the upload handler
// remains in control of how to serve replays (by fetching the voice note the
// receipt points at).
func IdempotencyValidator(opts IdempotencyOptions, lookup ReceiptLookup) gin.HandlerFunc {
	// Sensible defaults.
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		// RFC-7230-ish token + common safe chars.
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			// Nothing to validate or stash; proceed.
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		// Stash the normalized key for downstream use.
		c.Set(ctxKeyIdemKey, key)

		// If we can detect a previously stored receipt, mark replay + rate bypass.
		if lookup != nil {
			owner := OwnerFromCtx(c)
			now := time.Now().UTC()

			if exists, _ := lookup(c.Request.Context(), owner, key, now); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true) // let RL middleware skip limiting
			}
		}

		c.Next()
	}
}

// OwnerFromCtx extracts the caller identity used for receipt and rate-limit
// scoping: the authenticated user id when present, otherwise the anonymous
// session id from the X-Session-ID header. The two namespaces are prefixed
// so they can never collide.
func OwnerFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return "user:" + s
		}
	}
	if sid := c.GetHeader(HeaderSessionID); sid != "" {
		return "session:" + sid
	}
	return ""
}
