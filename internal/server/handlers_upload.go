package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"frames/internal/assets"
	"frames/internal/logging"
	"frames/internal/upload"
)

const maxChunkFormMemory = 32 << 20

// handleUploadChunk accepts one chunk of a chunked upload. The response for
// a partial session reports percent progress; the final chunk creates the
// asset, answers immediately, and hands reassembly to a background goroutine.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxChunkFormMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed multipart request")
		return
	}

	meta, err := chunkMetaFromForm(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing chunk payload")
		return
	}
	defer file.Close()

	result, err := s.receiver.ReceiveChunk(r.Context(), meta, file)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidChunk):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, upload.ErrTooLarge):
			s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, upload.ErrDiskFull):
			s.writeError(w, http.StatusInsufficientStorage, err.Error())
		default:
			s.logger.Error("receive chunk", logging.String(logging.FieldUploadID, meta.UploadID), logging.Error(err))
			s.writeError(w, http.StatusInternalServerError, "chunk processing failed")
		}
		return
	}

	if !result.Complete {
		// A duplicate arriving after another delivery won the completion
		// repeats the completed state, so retrying clients converge.
		if result.Session.Completed() {
			assetKey, fileURL := result.Session.Asset()
			s.writeJSON(w, http.StatusOK, map[string]any{
				"success":  true,
				"uploadId": meta.UploadID,
				"assetId":  assetKey,
				"fileUrl":  fileURL,
				"complete": true,
			})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"uploadId": meta.UploadID,
			"chunk":    meta.Index,
			"complete": false,
			"progress": math.Round(result.Progress() * 100),
		})
		return
	}

	s.completeUpload(w, r, result.Session)
}

// completeUpload runs on the exactly-once completion path. It registers the
// asset, replies with its identity, and reassembles asynchronously.
func (s *Server) completeUpload(w http.ResponseWriter, r *http.Request, session *upload.Session) {
	key := strings.ReplaceAll(uuid.New().String(), "-", "")
	ext := sanitizeExt(session.FileName)
	sourcePath := filepath.Join(s.cfg.Paths.SourcesDir, key+ext)
	fileURL := path.Join(s.cfg.Paths.URLPrefix, "sources", key+ext)

	if _, err := s.catalog.Create(r.Context(), &assets.Asset{
		Key:       key,
		FileName:  session.FileName,
		ProjectID: session.ProjectID,
		MediaType: session.MediaType,
		OwnerID:   session.OwnerID,
		FileURL:   fileURL,
	}); err != nil {
		s.logger.Error("create asset", logging.String(logging.FieldUploadID, session.ID), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "asset registration failed")
		return
	}

	session.RecordAsset(key, fileURL)

	s.bg.Add(1)
	go s.finishSession(session, key, sourcePath)

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"assetId":  key,
		"fileUrl":  fileURL,
		"complete": true,
	})
}

// finishSession reassembles the session and enqueues the transcode job. It
// runs detached from the completing request, so it uses a fresh context.
func (s *Server) finishSession(session *upload.Session, key, sourcePath string) {
	defer s.bg.Done()
	ctx := context.Background()

	if err := s.reassembler.Reassemble(ctx, session, sourcePath); err != nil {
		s.logger.Error("reassemble upload",
			logging.String(logging.FieldUploadID, session.ID),
			logging.String(logging.FieldJobKey, key),
			logging.Error(err))
		if markErr := s.catalog.MarkFailed(ctx, key, err.Error()); markErr != nil {
			s.logger.Error("mark asset failed", logging.String(logging.FieldJobKey, key), logging.Error(markErr))
		}
		return
	}

	job, err := s.ledger.Enqueue(ctx, key, sourcePath, session.OwnerID)
	if err != nil {
		s.logger.Error("enqueue job", logging.String(logging.FieldJobKey, key), logging.Error(err))
		if markErr := s.catalog.MarkFailed(ctx, key, "job enqueue failed"); markErr != nil {
			s.logger.Error("mark asset failed", logging.String(logging.FieldJobKey, key), logging.Error(markErr))
		}
		return
	}
	s.pool.Enqueue(job.ID)

	if err := s.notifier.NotifyUploadCompleted(ctx, session.FileName, key); err != nil {
		s.logger.Warn("upload notification", logging.String(logging.FieldJobKey, key), logging.Error(err))
	}
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")
	session := s.tracker.Get(uploadID)
	if session == nil {
		s.writeError(w, http.StatusNotFound, "unknown upload session")
		return
	}
	received := session.ReceivedCount()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"uploadId": session.ID,
		"received": received,
		"total":    session.TotalChunks,
		"progress": math.Round(float64(received) / float64(session.TotalChunks) * 100),
		"complete": session.Completed(),
	})
}

func chunkMetaFromForm(r *http.Request) (upload.ChunkMeta, error) {
	index, err := strconv.Atoi(strings.TrimSpace(r.FormValue("chunk")))
	if err != nil {
		return upload.ChunkMeta{}, errors.New("invalid chunk index")
	}
	total, err := strconv.Atoi(strings.TrimSpace(r.FormValue("chunks")))
	if err != nil {
		return upload.ChunkMeta{}, errors.New("invalid chunk count")
	}
	return upload.ChunkMeta{
		UploadID:    strings.TrimSpace(r.FormValue("uploadId")),
		FileName:    filepath.Base(strings.TrimSpace(r.FormValue("fileName"))),
		Index:       index,
		TotalChunks: total,
		ProjectID:   strings.TrimSpace(r.FormValue("project_id")),
		MediaType:   strings.TrimSpace(r.FormValue("type")),
		OwnerID:     strings.TrimSpace(r.FormValue("ownerId")),
	}, nil
}

// sanitizeExt keeps only a plain extension from the client file name.
func sanitizeExt(fileName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(fileName)))
	for _, r := range ext[min(len(ext), 1):] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
