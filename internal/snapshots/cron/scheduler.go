package cronjob

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/storycanvas-app/collab-backend/config"
	"github.com/storycanvas-app/collab-backend/internal/snapshots/service"
)

// Scheduler drives the periodic snapshot and retention jobs. Jobs are chained
// through Recover, so a panicking job is logged instead of crashing the
// process, and through SkipIfStillRunning, so a run that outlasts its
// interval suppresses the next tick instead of overlapping it.
type Scheduler struct {
	svc *service.SnapshotService
	cfg config.SnapshotConfig
	log *slog.Logger
	c   *cron.Cron
}

func NewScheduler(svc *service.SnapshotService, cfg config.SnapshotConfig, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{svc: svc, cfg: cfg, log: log}
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

func newCron(log *slog.Logger) *cron.Cron {
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	return cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// Start registers the cron jobs and begins the schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.c = newCron(s.log)

	if _, err := s.c.AddFunc(s.cfg.AutoSpec, func() {
		s.svc.RunScheduled(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.c.AddFunc(s.cfg.FullSpec, func() {
		s.svc.RunFull(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.c.AddFunc(s.cfg.CleanupSpec, func() {
		if _, err := s.svc.CleanupExpired(ctx); err != nil {
			s.log.Error("snapshot cleanup failed", "error", err)
		}
	}); err != nil {
		return err
	}

	s.log.Info("snapshot scheduler started",
		"auto", s.cfg.AutoSpec, "full", s.cfg.FullSpec, "cleanup", s.cfg.CleanupSpec)
	s.c.Start()
	return nil
}

// Stop halts the schedule; running jobs finish.
func (s *Scheduler) Stop() {
	if s.c != nil {
		s.c.Stop()
	}
}
