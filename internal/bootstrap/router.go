package bootstrap

import (
	"database/sql"
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/storycanvas-app/collab-backend/internal/api/http"
	"github.com/storycanvas-app/collab-backend/internal/auth"
	"github.com/storycanvas-app/collab-backend/internal/autosave"
	autosavehttp "github.com/storycanvas-app/collab-backend/internal/autosave/http"
	"github.com/storycanvas-app/collab-backend/internal/realtime"
	realtimehttp "github.com/storycanvas-app/collab-backend/internal/realtime/http"
	snapshothttp "github.com/storycanvas-app/collab-backend/internal/snapshots/http"
	snapshotsvc "github.com/storycanvas-app/collab-backend/internal/snapshots/service"
	versionhttp "github.com/storycanvas-app/collab-backend/internal/versioning/http"
	versionsvc "github.com/storycanvas-app/collab-backend/internal/versioning/service"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	FrontendURL string

	DB  *sql.DB
	RDB *redis.Client
	Log *slog.Logger

	Registry *realtime.Registry
	Router   *realtime.Router

	Mutator   *versionsvc.Mutator
	Versions  *versionsvc.VersionService
	Snapshots *snapshotsvc.SnapshotService
	Restore   *snapshotsvc.RestoreService
	Drafts    *autosave.Service
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{dep.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", auth.ActorHeader},
		AllowCredentials: true,
	}))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB, dep.RDB)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(auth.WithActor())

	versionhttp.NewHandler(dep.Mutator, dep.Versions).Register(api)
	snapshothttp.NewHandler(dep.Snapshots, dep.Restore).Register(api)
	autosavehttp.NewHandler(dep.Drafts).Register(api)
	realtimehttp.NewHandler(dep.Registry, dep.Router, dep.FrontendURL, dep.Log).Register(api)

	return r
}
