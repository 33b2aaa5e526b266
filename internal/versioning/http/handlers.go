package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storycanvas-app/collab-backend/internal/auth"
	"github.com/storycanvas-app/collab-backend/internal/versioning/domain"
	"github.com/storycanvas-app/collab-backend/internal/versioning/service"
)

// Handler exposes the mutation entry point and the version history API.
type Handler struct {
	mutator  *service.Mutator
	versions *service.VersionService
}

func NewHandler(mutator *service.Mutator, versions *service.VersionService) *Handler {
	return &Handler{mutator: mutator, versions: versions}
}

type updateReq struct {
	ExpectedVersion   int64           `json:"expected_version"`
	Payload           json.RawMessage `json:"payload"`
	ChangeDescription string          `json:"change_description"`
}

func (h *Handler) update(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	entity, err := h.mutator.Update(c.Request.Context(), domain.UpdateRequest{
		ActorID:           auth.ActorID(c),
		Kind:              kind,
		EntityID:          c.Param("id"),
		ExpectedVersion:   req.ExpectedVersion,
		Payload:           req.Payload,
		ChangeDescription: req.ChangeDescription,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "entity": entity})
}

type createReq struct {
	ProjectID string          `json:"project_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (h *Handler) create(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	entity, err := h.mutator.Create(c.Request.Context(), domain.CreateRequest{
		ActorID:   auth.ActorID(c),
		Kind:      kind,
		ProjectID: req.ProjectID,
		Payload:   req.Payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "entity": entity})
}

func (h *Handler) delete(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	if err := h.mutator.Delete(c.Request.Context(), auth.ActorID(c), kind, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) listVersions(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}
	includeArchived := c.Query("include_archived") == "true"

	records, err := h.versions.List(c.Request.Context(), kind, c.Param("id"), includeArchived)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "versions": records})
}

func (h *Handler) getVersion(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	record, err := h.versions.Get(c.Request.Context(), kind, c.Param("id"), c.Param("version_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "version": record})
}

func (h *Handler) compareVersions(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	v1 := c.Query("v1")
	v2 := c.Query("v2")
	if v1 == "" || v2 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "v1 and v2 are required"})
		return
	}

	cmp, err := h.versions.Compare(c.Request.Context(), kind, c.Param("id"), v1, v2)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "comparison": cmp})
}

func (h *Handler) restoreVersion(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	entity, err := h.versions.Restore(c.Request.Context(), auth.ActorID(c), kind, c.Param("id"), c.Param("version_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "entity": entity})
}

type archiveReq struct {
	Keep int `json:"keep"`
}

func (h *Handler) archiveVersions(c *gin.Context) {
	kind, ok := parseKind(c)
	if !ok {
		return
	}

	req := archiveReq{Keep: 10}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
			return
		}
	}

	archived, err := h.versions.ArchiveOlderThan(c.Request.Context(), kind, c.Param("id"), req.Keep)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "archived": archived, "kept": req.Keep})
}

func parseKind(c *gin.Context) (domain.Kind, bool) {
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unknown entity kind"})
		return "", false
	}
	return kind, true
}

// writeError maps the error taxonomy onto status codes. Conflict responses
// carry the authoritative current version so clients can reconcile.
func writeError(c *gin.Context, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"ok":              false,
			"error":           "version conflict",
			"current_version": conflict.CurrentVersion,
		})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrVersionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "storage failure"})
	}
}
