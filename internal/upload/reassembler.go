package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"frames/internal/logging"
)

// ErrCorruptUpload marks a completed session whose staged chunks turned out
// to be missing or unreadable at reassembly time.
var ErrCorruptUpload = errors.New("corrupt upload")

// Reassembler concatenates staged chunks into a single source file.
type Reassembler struct {
	receiver *Receiver
	logger   *slog.Logger
}

// NewReassembler builds a Reassembler reading chunks from receiver's staging area.
func NewReassembler(receiver *Receiver, logger *slog.Logger) *Reassembler {
	return &Reassembler{
		receiver: receiver,
		logger:   logging.NewComponentLogger(logger, "reassembler"),
	}
}

// Reassemble writes the session's chunks in index order to dstPath. The
// output is staged as a sibling temp file and renamed into place, so a
// partially reassembled file is never published. Staged chunks are removed
// only after the rename succeeds; on failure the staging directory is left
// intact for inspection. The tracker entry stays so that late redeliveries
// of the final chunk still find the completed session.
func (r *Reassembler) Reassemble(ctx context.Context, session *Session, dstPath string) error {
	if session == nil {
		return errors.New("session is nil")
	}
	dir := r.receiver.SessionDir(session.ID)

	// The completion flag only proves every index was seen at some point.
	// Re-check the staged files before concatenating in case one was lost.
	for i := 0; i < session.TotalChunks; i++ {
		if _, err := os.Stat(ChunkPath(dir, i)); err != nil {
			return fmt.Errorf("%w: chunk %d of %d missing: %v", ErrCorruptUpload, i, session.TotalChunks, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), "."+filepath.Base(dstPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage output: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	for i := 0; i < session.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			_ = tmp.Close()
			return err
		}
		if err := appendChunk(tmp, ChunkPath(dir, i)); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("%w: chunk %d: %v", ErrCorruptUpload, i, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpName, dstPath); err != nil {
		return fmt.Errorf("publish output: %w", err)
	}
	tmpName = ""

	r.logger.Info("upload reassembled",
		logging.String(logging.FieldUploadID, session.ID),
		logging.String("file_name", session.FileName),
		logging.String("output", dstPath))

	if err := r.receiver.RemoveChunks(session.ID); err != nil {
		r.logger.Warn("session cleanup failed",
			logging.String(logging.FieldUploadID, session.ID),
			logging.Error(err))
	}
	return nil
}

func appendChunk(dst io.Writer, path string) error {
	chunk, err := os.Open(path)
	if err != nil {
		return err
	}
	defer chunk.Close()
	_, err = io.Copy(dst, chunk)
	return err
}
