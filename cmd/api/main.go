package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storycanvas-app/collab-backend/config"
	"github.com/storycanvas-app/collab-backend/internal/autosave"
	"github.com/storycanvas-app/collab-backend/internal/bootstrap"
	"github.com/storycanvas-app/collab-backend/internal/realtime"
	cronjob "github.com/storycanvas-app/collab-backend/internal/snapshots/cron"
	snapshotsvc "github.com/storycanvas-app/collab-backend/internal/snapshots/service"
	versionsvc "github.com/storycanvas-app/collab-backend/internal/versioning/service"
)

const serviceName = "collab-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := bootstrap.NewLogger(&cfg.App)
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := bootstrap.OpenDB(ctx, &cfg.Database, os.Getenv("DB_AUTO_MIGRATE") == "true")
	if err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := bootstrap.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	registry := realtime.NewRegistry(log)
	backplane := realtime.NewBackplane(rdb, cfg.App.InstanceID, log)
	router := realtime.NewRouter(registry, backplane, log)
	backplane.Start(ctx)
	defer backplane.Stop()

	mutator := versionsvc.NewMutator(db, router, log)
	versions := versionsvc.NewVersionService(db, router, log)
	snapshots := snapshotsvc.NewSnapshotService(db, cfg.Snapshot, log)
	restore := snapshotsvc.NewRestoreService(db, router, log)
	drafts := autosave.NewService(db, log)

	scheduler := cronjob.NewScheduler(snapshots, cfg.Snapshot, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Error("scheduler failed to start", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	engine := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName: serviceName,
		Version:     cfg.App.Version,
		FrontendURL: cfg.Server.FrontendURL,
		DB:          db,
		RDB:         rdb,
		Log:         log,
		Registry:    registry,
		Router:      router,
		Mutator:     mutator,
		Versions:    versions,
		Snapshots:   snapshots,
		Restore:     restore,
		Drafts:      drafts,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: engine,
	}

	go func() {
		log.Info("server listening", "port", cfg.Server.Port, "env", cfg.App.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
}
