// Quota HTTP handlers.
//
// This file exposes the anonymous usage gate's read and admin surface:
//   - GET  /quota                        (probe remaining quota, non-mutating)
//   - POST /admin/sessions/{id}/reset    (zero a session's counter)
//
// The consuming side of the gate is not an endpoint: quota is spent inside
// the upload path, atomically with accepting the audio.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicenote-backend/internal/http/middleware"
)

// QuotaResponse reports a session's remaining quota.
type QuotaResponse struct {
	SessionID string `json:"session_id"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

// GetQuota probes the caller's remaining anonymous quota without consuming
// any. Unknown sessions report the full limit; probing never creates state.
// Authenticated callers have no quota and receive 404.
func (h *Handlers) GetQuota(c *gin.Context) {
	if userID(c) != "" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "authenticated users have no anonymous quota")
		return
	}
	sid, okSid := middleware.SessionID(c)
	if !okSid {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Session-ID required")
		return
	}
	remaining, limit, err := h.quotaSvc.Probe(c.Request.Context(), sid)
	if err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, QuotaResponse{SessionID: sid, Remaining: remaining, Limit: limit})
}

// ResetSessionQuota zeroes one session's usage counter. Reserved for
// administrative use; the router guards this route.
func (h *Handlers) ResetSessionQuota(c *gin.Context) {
	sid := c.Param("id")
	if _, err := uuid.Parse(sid); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	if err := h.quotaSvc.Reset(c.Request.Context(), sid); err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
