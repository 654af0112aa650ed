package transcode

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"frames/internal/config"
	"frames/internal/ledger"
	"frames/internal/logging"
	"frames/internal/notifications"
	"frames/internal/upload"
)

// SessionReaper evicts upload sessions older than a cutoff. A nil reaper
// disables the session pass.
type SessionReaper interface {
	DiscardStale(cutoff time.Time) int
}

// Sweeper reclaims jobs, staging directories, and upload sessions orphaned
// by crashed workers or abandoned clients. Jobs whose heartbeat expired are
// failed through the guarded terminal transition, so the failure side
// effects still fire exactly once even when the original worker resurfaces.
type Sweeper struct {
	store    *ledger.Store
	registry Registry
	notifier notifications.Service
	sessions SessionReaper
	paths    config.Paths
	cfg      config.Workflow
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewSweeper builds a Sweeper.
func NewSweeper(store *ledger.Store, registry Registry, notifier notifications.Service, sessions SessionReaper, paths config.Paths, cfg config.Workflow, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		registry: registry,
		notifier: notifier,
		sessions: sessions,
		paths:    paths,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "sweeper"),
	}
}

// Start launches the sweep loop in the background: one pass immediately,
// then on the configured interval until ctx ends. Use Wait to drain it on
// shutdown.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the sweep loop has exited.
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.SweepInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s.Sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep fails heartbeat-expired jobs, removes orphaned staging directories
// past the grace period, and evicts upload sessions past their TTL.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.failStaleJobs(ctx)
	s.reclaimStagingDirs(ctx)
	s.reapSessions()
}

func (s *Sweeper) reapSessions() {
	if s.sessions == nil {
		return
	}
	if n := s.sessions.DiscardStale(time.Now().Add(-upload.SessionTTL)); n > 0 {
		s.logger.Info("stale upload sessions evicted", logging.Int("count", n))
	}
}

func (s *Sweeper) failStaleJobs(ctx context.Context) {
	timeout := time.Duration(s.cfg.HeartbeatTimeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cutoff := time.Now().Add(-timeout)

	stale, err := s.store.StaleProcessing(ctx, cutoff)
	if err != nil {
		s.logger.Error("list stale jobs", logging.Error(err))
		return
	}
	for _, job := range stale {
		reason := "worker lost: heartbeat expired"
		won, err := s.store.MarkFailed(ctx, job.ID, reason)
		if err != nil {
			s.logger.Error("fail stale job", logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))
			continue
		}
		if !won {
			continue
		}
		if err := s.registry.MarkFailed(ctx, job.JobKey, reason); err != nil {
			s.logger.Warn("update asset", logging.String(logging.FieldJobKey, job.JobKey), logging.Error(err))
		}
		if err := s.notifier.NotifyProcessingFailed(ctx, filepath.Base(job.SourcePath), job.JobKey, reason); err != nil {
			s.logger.Warn("failure notification", logging.String(logging.FieldJobKey, job.JobKey), logging.Error(err))
		}
		s.logger.Warn("stale job failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldJobKey, job.JobKey))
	}
}

// reclaimStagingDirs removes .tmp-<key> directories whose job is no longer
// processing and which have been idle past the grace period. Directories
// belonging to live jobs are left alone no matter how old they are.
func (s *Sweeper) reclaimStagingDirs(ctx context.Context) {
	grace := time.Duration(s.cfg.SweepGraceMinutes) * time.Minute
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	cutoff := time.Now().Add(-grace)

	entries, err := os.ReadDir(s.paths.ProcessedDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("scan processed dir", logging.Error(err))
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		jobKey := strings.TrimPrefix(entry.Name(), ".tmp-")
		job, err := s.store.GetByKey(ctx, jobKey)
		if err != nil {
			s.logger.Error("look up staging owner", logging.String(logging.FieldJobKey, jobKey), logging.Error(err))
			continue
		}
		if job != nil && !job.Status.Terminal() {
			continue
		}

		dir := filepath.Join(s.paths.ProcessedDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Error("remove staging dir", logging.String("dir", dir), logging.Error(err))
			continue
		}
		s.logger.Info("staging dir reclaimed", logging.String(logging.FieldJobKey, jobKey))
	}
}
