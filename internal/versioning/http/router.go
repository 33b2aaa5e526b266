package http

import "github.com/gin-gonic/gin"

// Register mounts the entity mutation and version history routes.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/entities/:kind", h.create)
	rg.PUT("/entities/:kind/:id", h.update)
	rg.DELETE("/entities/:kind/:id", h.delete)

	rg.GET("/entities/:kind/:id/versions", h.listVersions)
	rg.GET("/entities/:kind/:id/versions/compare", h.compareVersions)
	rg.GET("/entities/:kind/:id/versions/:version_id", h.getVersion)
	rg.POST("/entities/:kind/:id/versions/:version_id/restore", h.restoreVersion)
	rg.POST("/entities/:kind/:id/versions/archive", h.archiveVersions)
}
