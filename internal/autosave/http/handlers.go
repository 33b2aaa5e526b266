package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storycanvas-app/collab-backend/internal/auth"
	"github.com/storycanvas-app/collab-backend/internal/autosave"
	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
)

type Handler struct {
	drafts *autosave.Service
}

func NewHandler(drafts *autosave.Service) *Handler {
	return &Handler{drafts: drafts}
}

// Register mounts the draft routes.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.PUT("/entities/:kind/:id/draft", h.saveDraft)
	rg.GET("/drafts", h.recoverDrafts)
}

type saveDraftReq struct {
	Data json.RawMessage `json:"data"`
}

func (h *Handler) saveDraft(c *gin.Context) {
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	var req saveDraftReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	if err := h.drafts.SaveDraft(c.Request.Context(), kind, c.Param("id"), req.Data); err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "entity not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "storage failure"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) recoverDrafts(c *gin.Context) {
	drafts, err := h.drafts.RecoverDrafts(c.Request.Context(), auth.ActorID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "storage failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "drafts": drafts})
}
