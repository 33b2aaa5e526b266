package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storycanvas-app/collab-backend/internal/auth"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/domain"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/service"
)

// Handler exposes manual snapshot and restore triggers.
type Handler struct {
	snapshots *service.SnapshotService
	restore   *service.RestoreService
}

func NewHandler(snapshots *service.SnapshotService, restore *service.RestoreService) *Handler {
	return &Handler{snapshots: snapshots, restore: restore}
}

// Register mounts the snapshot routes.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/subjects/:subject_id/snapshots", h.create)
	rg.GET("/subjects/:subject_id/snapshots", h.list)
	rg.POST("/snapshots/:id/restore", h.restoreSnapshot)
	rg.POST("/snapshots/cleanup", h.cleanup)
}

type createReq struct {
	Kind string `json:"kind"`
}

func (h *Handler) create(c *gin.Context) {
	req := createReq{Kind: domain.KindManual}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
			return
		}
	}

	snapshot, err := h.snapshots.CreateSnapshot(c.Request.Context(), c.Param("subject_id"), req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "snapshot": snapshot})
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.snapshots.List(c.Request.Context(), c.Param("subject_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "snapshots": items})
}

func (h *Handler) restoreSnapshot(c *gin.Context) {
	ref, err := h.restore.Restore(c.Request.Context(), c.Param("id"), auth.ActorID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "restored": ref})
}

func (h *Handler) cleanup(c *gin.Context) {
	deleted, err := h.snapshots.CleanupExpired(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "deleted": deleted})
}

// writeError distinguishes not-found from transient failure so clients know
// whether a retry is useful.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSnapshotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "snapshot not found"})
	case errors.Is(err, domain.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, domain.ErrRestoreFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "restore failed, state unchanged"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "storage failure"})
	}
}
