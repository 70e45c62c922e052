// Entity and usage HTTP handlers.
//
// This file exposes the entity usage tracker:
//   - POST  /entities                 (register a recognized entity)
//   - GET   /entities                 (list the caller's entities)
//   - GET   /entities/{id}/usage      (usage history across voice notes)
//   - GET   /entities/{id}/stats      (on-read accuracy counters)
//   - PATCH /usage/{id}               (record a correction on one usage row)
//
// Stats are computed from history on every read; no counters are stored, so
// a correction immediately shifts the reported rates.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateEntityRequest is the JSON payload for registering an entity.
type CreateEntityRequest struct {
	// Name is the surface form matched against transcripts.
	Name string `json:"name" binding:"required,min=1,max=255"`
	// Type is one of person, place, term.
	Type string `json:"type" binding:"required"`
	// Description optionally explains the entity (shown in prompt context).
	Description string `json:"description"`
}

// UpdateUsageRequest is the JSON payload for recording a correction.
//
// Setting was_corrected requires both texts, and they must differ. Repeating
// the same request is idempotent: the fields are overwritten as a whole.
type UpdateUsageRequest struct {
	WasCorrected  bool    `json:"was_corrected"`
	OriginalText  *string `json:"original_text,omitempty"`
	CorrectedText *string `json:"corrected_text,omitempty"`
}

// CreateEntity registers a new recognized entity for the caller.
func (h *Handlers) CreateEntity(c *gin.Context) {
	uid, sid, okID := identity(c)
	if !okID {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication or X-Session-ID required")
		return
	}
	owner := uid
	if owner == "" {
		owner = sid
	}

	var req CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and type required")
		return
	}
	e, err := h.usageSvc.CreateEntity(c.Request.Context(), owner, req.Name, req.Type, req.Description)
	if err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, e)
}

// ListEntities returns the caller's recognized entities ordered by name.
func (h *Handlers) ListEntities(c *gin.Context) {
	uid, sid, okID := identity(c)
	if !okID {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication or X-Session-ID required")
		return
	}
	owner := uid
	if owner == "" {
		owner = sid
	}
	entities, err := h.usageSvc.ListEntities(c.Request.Context(), owner)
	if err != nil {
		mapServiceError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, gin.H{"entities": entities})
}

// GetEntityUsage returns one entity's usage history across voice notes.
func (h *Handlers) GetEntityUsage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entity id must be a UUID")
		return
	}
	usages, err := h.usageSvc.FindByEntity(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, gin.H{"usages": usages})
}

// GetEntityStats returns an entity's aggregate accuracy counters, computed
// from the full usage history on read.
func (h *Handlers) GetEntityStats(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entity id must be a UUID")
		return
	}
	stats, err := h.usageSvc.GetUsageStats(c.Request.Context(), id)
	if err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, stats)
}

// UpdateUsage records (or re-records) a correction on one usage row.
func (h *Handlers) UpdateUsage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "usage id must be a UUID")
		return
	}
	var req UpdateUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	err := h.usageSvc.UpdateCorrection(c.Request.Context(), id, req.WasCorrected, req.OriginalText, req.CorrectedText)
	if err != nil {
		mapServiceError(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
