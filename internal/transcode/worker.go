package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"frames/internal/assets"
	"frames/internal/config"
	"frames/internal/ledger"
	"frames/internal/logging"
	"frames/internal/notifications"
)

// Registry is the narrow asset-catalog surface the pool writes through.
// Jobs address assets by the explicit key carried from upload to job row,
// never by matching file paths.
type Registry interface {
	RecordMediaInfo(ctx context.Context, key string, durationSeconds int, resolution string) error
	MarkReady(ctx context.Context, key string, artifacts assets.Artifacts) error
	MarkFailed(ctx context.Context, key, reason string) error
}

// Pool runs a bounded set of transcode workers over the job ledger. Each
// job is claimed through the ledger's atomic transition, so duplicate
// enqueues and competing pools are harmless.
type Pool struct {
	store    *ledger.Store
	pipeline *Pipeline
	registry Registry
	notifier notifications.Service
	cfg      config.Workflow
	logger   *slog.Logger

	queue chan int64
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[int64]struct{}
	cancels  map[int64]context.CancelFunc
}

// NewPool builds a worker pool. The pool does not start until Start is called.
func NewPool(store *ledger.Store, pipeline *Pipeline, registry Registry, notifier notifications.Service, cfg config.Workflow, logger *slog.Logger) *Pool {
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		store:    store,
		pipeline: pipeline,
		registry: registry,
		notifier: notifier,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "workers"),
		queue:    make(chan int64, queueSize),
		inFlight: make(map[int64]struct{}),
		cancels:  make(map[int64]context.CancelFunc),
	}
}

// Start launches the workers and the pending-job poller. Workers exit when
// ctx ends and the queue drains.
func (p *Pool) Start(ctx context.Context) {
	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}

	p.wg.Add(1)
	go p.pollLoop(ctx)

	p.recoverPending(ctx)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Enqueue offers a job to the pool. A full queue drops the offer; the
// poller picks the job up again from its pending row.
func (p *Pool) Enqueue(id int64) {
	select {
	case p.queue <- id:
	default:
		p.logger.Warn("queue full, job stays pending", logging.Int64(logging.FieldJobID, id))
	}
}

// Cancel flags the job for jobKey and interrupts its worker if one is
// mid-pipeline. Returns false when the job is unknown or already terminal.
func (p *Pool) Cancel(ctx context.Context, jobKey string) (bool, error) {
	flagged, err := p.store.RequestCancel(ctx, jobKey)
	if err != nil || !flagged {
		return flagged, err
	}
	job, err := p.store.GetByKey(ctx, jobKey)
	if err != nil {
		return true, err
	}
	if job != nil {
		p.mu.Lock()
		cancel := p.cancels[job.ID]
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	return true, nil
}

// recoverPending requeues jobs left pending by a previous run.
func (p *Pool) recoverPending(ctx context.Context) {
	jobs, err := p.store.List(ctx, ledger.StatusPending)
	if err != nil {
		p.logger.Error("recover pending jobs", logging.Error(err))
		return
	}
	for _, job := range jobs {
		p.Enqueue(job.ID)
	}
	if len(jobs) > 0 {
		p.logger.Info("recovered pending jobs", logging.Int("count", len(jobs)))
	}
}

// pollLoop periodically requeues pending jobs so that dropped enqueues and
// jobs created by other processes are not stranded.
func (p *Pool) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recoverPending(ctx)
		}
	}
}

const pollInterval = 5 * time.Second

func (p *Pool) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.process(ctx, id)
		}
	}
}

func (p *Pool) beginWork(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool) finishWork(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, id)
	delete(p.cancels, id)
}

// process claims and runs one job. A lost claim means another worker owns
// the job; the loser walks away without side effects.
func (p *Pool) process(ctx context.Context, id int64) {
	if !p.beginWork(id) {
		return
	}
	defer p.finishWork(id)

	claimed, err := p.store.Claim(ctx, id)
	if err != nil {
		p.logger.Error("claim job", logging.Int64(logging.FieldJobID, id), logging.Error(err))
		return
	}
	if !claimed {
		return
	}

	job, err := p.store.GetByID(ctx, id)
	if err != nil || job == nil {
		p.logger.Error("load claimed job", logging.Int64(logging.FieldJobID, id), logging.Error(err))
		return
	}

	jobCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.JobTimeoutMinutes > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(p.cfg.JobTimeoutMinutes)*time.Minute)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	p.mu.Lock()
	p.cancels[id] = cancel
	p.mu.Unlock()

	heartbeatDone := make(chan struct{})
	go p.heartbeatLoop(jobCtx, job.ID, heartbeatDone)

	started := time.Now()
	p.logger.Info("job started",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKey, job.JobKey),
		logging.String("source", job.SourcePath))

	artifacts, runErr := p.pipeline.Run(jobCtx, job)
	close(heartbeatDone)

	if runErr != nil {
		p.failJob(ctx, job, runErr)
		return
	}
	p.completeJob(ctx, job, artifacts, time.Since(started))
}

func (p *Pool) heartbeatLoop(ctx context.Context, id int64, done <-chan struct{}) {
	interval := time.Duration(p.cfg.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.UpdateHeartbeat(ctx, id); err != nil {
				p.logger.Warn("heartbeat", logging.Int64(logging.FieldJobID, id), logging.Error(err))
			}
		}
	}
}

// completeJob performs the terminal transition and, only when this worker
// wins it, publishes the asset update and the single completion notification.
func (p *Pool) completeJob(ctx context.Context, job *ledger.Job, artifacts Artifacts, elapsed time.Duration) {
	encoded, err := artifacts.Encode()
	if err != nil {
		p.failJob(ctx, job, err)
		return
	}
	won, err := p.store.MarkCompleted(ctx, job.ID, encoded)
	if err != nil {
		p.logger.Error("mark completed", logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	if !won {
		return
	}

	if err := p.registry.RecordMediaInfo(ctx, job.JobKey, artifacts.DurationSeconds, artifacts.Resolution); err != nil {
		p.logger.Warn("record media info", logging.String(logging.FieldJobKey, job.JobKey), logging.Error(err))
	}
	if err := p.registry.MarkReady(ctx, job.JobKey, assets.Artifacts{
		ThumbnailURL:   artifacts.Thumbnail,
		PreviewURL:     artifacts.Preview,
		PlaylistURL:    artifacts.Playlist,
		RenditionsJSON: renditionsJSON(artifacts),
	}); err != nil {
		p.logger.Error("update asset", logging.String(logging.FieldJobKey, job.JobKey), logging.Error(err))
	}
	if err := p.notifier.NotifyProcessingCompleted(ctx, sourceName(job), job.JobKey, elapsed); err != nil {
		p.logger.Warn("completion notification", logging.String(logging.FieldJobKey, job.JobKey), logging.Error(err))
	}

	p.logger.Info("job completed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKey, job.JobKey),
		logging.Duration("elapsed", elapsed))
}

func (p *Pool) failJob(ctx context.Context, job *ledger.Job, cause error) {
	reason := failureReason(cause)
	// Cancel interrupts a running stage through the job context, so the
	// pipeline surfaces context.Canceled instead of reaching a checkpoint.
	// The flag tells a requested cancellation apart from process shutdown.
	if errors.Is(cause, context.Canceled) && reason != cancelledReason {
		if requested, flagErr := p.store.CancelRequested(ctx, job.ID); flagErr == nil && requested {
			reason = cancelledReason
		}
	}
	won, err := p.store.MarkFailed(ctx, job.ID, reason)
	if err != nil {
		p.logger.Error("mark failed", logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))
		return
	}
	if !won {
		return
	}

	if err := p.registry.MarkFailed(ctx, job.JobKey, reason); err != nil {
		p.logger.Warn("update asset", logging.String(logging.FieldJobKey, job.JobKey), logging.Error(err))
	}
	if err := p.notifier.NotifyProcessingFailed(ctx, sourceName(job), job.JobKey, reason); err != nil {
		p.logger.Warn("failure notification", logging.String(logging.FieldJobKey, job.JobKey), logging.Error(err))
	}

	p.logger.Error("job failed",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKey, job.JobKey),
		logging.String("reason", reason))
}

const cancelledReason = "cancelled: owning resource deleted"

// failureReason keeps the cancellation case distinguishable in the ledger.
func failureReason(cause error) string {
	switch {
	case errors.Is(cause, ErrCancelled):
		return cancelledReason
	case errors.Is(cause, context.DeadlineExceeded):
		return "timed out"
	case cause == nil:
		return "unknown failure"
	default:
		return cause.Error()
	}
}

func sourceName(job *ledger.Job) string {
	return filepath.Base(job.SourcePath)
}

func renditionsJSON(artifacts Artifacts) string {
	if len(artifacts.Renditions) == 0 {
		return ""
	}
	data, err := json.Marshal(artifacts.Renditions)
	if err != nil {
		return ""
	}
	return string(data)
}
