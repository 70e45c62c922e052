// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file handles the anonymous session identity. Unauthenticated clients
// mint a UUID once and send it as X-Session-ID on every request; the quota
// gate, rate limiter, and upload receipts all key on it. The middleware only
// validates the format and stashes the value — it deliberately does not
// create or count anything, so merely probing an endpoint never consumes
// quota.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderSessionID is the request header carrying the client-generated
// anonymous session identifier.
const HeaderSessionID = "X-Session-ID"

// ctxKeySessionID is the Gin context key under which the validated session
// id is stored.
const ctxKeySessionID = "sessionID"

// SessionID returns the validated anonymous session id stashed by
// SessionExtractor. The second return value indicates presence.
func SessionID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeySessionID)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// SessionExtractor validates the X-Session-ID header when present and
// stashes it in the request context. A malformed id is rejected with 400 up
// front so the quota gate never sees garbage keys.
//
// Requests without the header pass through untouched; whether an identity is
// required at all is the handler's decision, not this middleware's.
func SessionExtractor() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.GetHeader(HeaderSessionID)
		if sid == "" {
			c.Next()
			return
		}
		if _, err := uuid.Parse(sid); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "bad_session_id",
				"message":    "invalid X-Session-ID",
			})
			return
		}
		c.Set(ctxKeySessionID, sid)
		c.Next()
	}
}
