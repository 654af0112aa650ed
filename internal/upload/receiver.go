package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"frames/internal/fileutil"
	"frames/internal/logging"
)

var (
	// ErrInvalidChunk marks malformed chunk metadata (bad index or count).
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrTooLarge marks an upload whose declared or accumulated size exceeds the limit.
	ErrTooLarge = errors.New("upload too large")
	// ErrDiskFull marks a rejected chunk due to the free-space floor.
	ErrDiskFull = errors.New("insufficient disk space")
)

// ChunkMeta carries the form fields accompanying one chunk.
type ChunkMeta struct {
	UploadID    string
	FileName    string
	Index       int
	TotalChunks int
	ProjectID   string
	MediaType   string
	OwnerID     string
}

// Result reports the state of the session after a chunk lands.
type Result struct {
	Session  *Session
	Complete bool
	Received int
	Total    int
}

// Progress returns the fraction of chunks received, in [0, 1].
func (r Result) Progress() float64 {
	if r.Total <= 0 {
		return 0
	}
	return float64(r.Received) / float64(r.Total)
}

// Receiver persists incoming chunks under a per-session staging directory.
type Receiver struct {
	tracker      *Tracker
	incomingDir  string
	maxFileBytes uint64
	minFreeBytes uint64
	logger       *slog.Logger
}

// NewReceiver builds a Receiver staging chunks under incomingDir.
func NewReceiver(tracker *Tracker, incomingDir string, maxFileBytes, minFreeBytes uint64, logger *slog.Logger) *Receiver {
	return &Receiver{
		tracker:      tracker,
		incomingDir:  incomingDir,
		maxFileBytes: maxFileBytes,
		minFreeBytes: minFreeBytes,
		logger:       logging.NewComponentLogger(logger, "receiver"),
	}
}

// SessionDir returns the staging directory for an upload session.
func (r *Receiver) SessionDir(uploadID string) string {
	return filepath.Join(r.incomingDir, uploadID)
}

// ReceiveChunk validates, stages, and records one chunk. Writing goes
// through a temp file and rename, so a redelivered chunk overwrites its
// predecessor whole and a crashed write never leaves a torn chunk behind.
func (r *Receiver) ReceiveChunk(ctx context.Context, meta ChunkMeta, body io.Reader) (Result, error) {
	if err := validateMeta(meta); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if r.minFreeBytes > 0 {
		free, err := fileutil.FreeBytes(r.incomingDir)
		if err != nil {
			return Result{}, fmt.Errorf("check free space: %w", err)
		}
		if free < r.minFreeBytes {
			return Result{}, fmt.Errorf("%w: %d bytes free, floor is %d", ErrDiskFull, free, r.minFreeBytes)
		}
	}

	session := r.tracker.Ensure(meta)
	if meta.TotalChunks != session.TotalChunks {
		return Result{}, fmt.Errorf("%w: chunk count %d disagrees with session count %d",
			ErrInvalidChunk, meta.TotalChunks, session.TotalChunks)
	}

	// A chunk redelivered after completion has nothing left to stage; the
	// chunks may already be consumed. Report the finished state instead.
	if session.Completed() {
		return Result{
			Session:  session,
			Received: session.TotalChunks,
			Total:    session.TotalChunks,
		}, nil
	}

	dir := r.SessionDir(session.ID)
	if err := fileutil.EnsureDir(dir); err != nil {
		return Result{}, fmt.Errorf("ensure session dir: %w", err)
	}

	written, err := r.stageChunk(dir, meta.Index, body)
	if err != nil {
		return Result{}, err
	}
	if r.maxFileBytes > 0 && uint64(written) > r.maxFileBytes {
		_ = os.Remove(ChunkPath(dir, meta.Index))
		return Result{}, fmt.Errorf("%w: chunk of %d bytes exceeds limit", ErrTooLarge, written)
	}

	received := session.MarkReceived(meta.Index)
	result := Result{
		Session:  session,
		Received: received,
		Total:    session.TotalChunks,
	}

	r.logger.Debug("chunk received",
		logging.String(logging.FieldUploadID, session.ID),
		logging.Int("chunk", meta.Index),
		logging.Int("received", received),
		logging.Int("total", session.TotalChunks))

	if session.TryComplete() {
		result.Complete = true
		r.logger.Info("upload complete",
			logging.String(logging.FieldUploadID, session.ID),
			logging.String("file_name", session.FileName),
			logging.Int("chunks", session.TotalChunks))
	}
	return result, nil
}

// DiscardSession removes a session's staging directory and tracker entry.
func (r *Receiver) DiscardSession(uploadID string) error {
	r.tracker.Remove(uploadID)
	return os.RemoveAll(r.SessionDir(uploadID))
}

// RemoveChunks removes a session's staging directory but keeps the tracker
// entry, so late chunk redeliveries still resolve to the completed session.
func (r *Receiver) RemoveChunks(uploadID string) error {
	return os.RemoveAll(r.SessionDir(uploadID))
}

// SessionTTL bounds how long a session entry and its staged chunks survive
// after the session was created.
const SessionTTL = 24 * time.Hour

// DiscardStale evicts sessions created before cutoff along with any staged
// chunks. Returns how many sessions were removed.
func (r *Receiver) DiscardStale(cutoff time.Time) int {
	stale := r.tracker.Stale(cutoff)
	for _, session := range stale {
		if err := r.DiscardSession(session.ID); err != nil {
			r.logger.Warn("discard stale session",
				logging.String(logging.FieldUploadID, session.ID),
				logging.Error(err))
		}
	}
	return len(stale)
}

func (r *Receiver) stageChunk(dir string, index int, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".chunk_%06d.tmp-*", index))
	if err != nil {
		return 0, fmt.Errorf("stage chunk: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	var written int64
	if r.maxFileBytes > 0 {
		written, err = io.Copy(tmp, io.LimitReader(body, int64(r.maxFileBytes)+1))
	} else {
		written, err = io.Copy(tmp, body)
	}
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close chunk: %w", err)
	}
	if err := os.Rename(tmpName, ChunkPath(dir, index)); err != nil {
		return 0, fmt.Errorf("publish chunk: %w", err)
	}
	tmpName = ""
	return written, nil
}

// ChunkPath returns the staged path for a chunk index inside a session dir.
func ChunkPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%06d", index))
}

func validateMeta(meta ChunkMeta) error {
	if meta.UploadID == "" {
		return fmt.Errorf("%w: missing upload id", ErrInvalidChunk)
	}
	if meta.FileName == "" {
		return fmt.Errorf("%w: missing file name", ErrInvalidChunk)
	}
	if meta.TotalChunks < 1 {
		return fmt.Errorf("%w: chunk count %d", ErrInvalidChunk, meta.TotalChunks)
	}
	if meta.Index < 0 || meta.Index >= meta.TotalChunks {
		return fmt.Errorf("%w: index %d outside [0, %d)", ErrInvalidChunk, meta.Index, meta.TotalChunks)
	}
	return nil
}
