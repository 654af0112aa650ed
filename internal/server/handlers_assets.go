package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"frames/internal/assets"
	"frames/internal/ledger"
	"frames/internal/logging"
)

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	asset, err := s.catalog.GetByKey(r.Context(), key)
	if err != nil {
		s.logger.Error("get asset", logging.String(logging.FieldJobKey, key), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "asset lookup failed")
		return
	}
	if asset == nil {
		s.writeError(w, http.StatusNotFound, "unknown asset")
		return
	}
	s.writeJSON(w, http.StatusOK, assetView(asset))
}

// handleDeleteAsset removes an asset and its published artifacts. An
// in-flight transcode job observes the cancellation flag between stages.
func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	asset, err := s.catalog.GetByKey(r.Context(), key)
	if err != nil {
		s.logger.Error("get asset", logging.String(logging.FieldJobKey, key), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "asset lookup failed")
		return
	}
	if asset == nil {
		s.writeError(w, http.StatusNotFound, "unknown asset")
		return
	}

	cancelled, err := s.pool.Cancel(r.Context(), key)
	if err != nil {
		s.logger.Error("cancel job", logging.String(logging.FieldJobKey, key), logging.Error(err))
	}

	if _, err := s.catalog.Delete(r.Context(), key); err != nil {
		s.logger.Error("delete asset", logging.String(logging.FieldJobKey, key), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "asset deletion failed")
		return
	}
	s.removeArtifacts(key)

	s.logger.Info("asset deleted",
		logging.String(logging.FieldJobKey, key),
		logging.Bool("job_cancelled", cancelled))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"jobCancelled": cancelled,
	})
}

// removeArtifacts deletes published outputs best-effort. Staging dirs for a
// cancelled in-flight job are reclaimed later by the sweeper.
func (s *Server) removeArtifacts(key string) {
	targets := []string{
		filepath.Join(s.cfg.Paths.ProcessedDir, key),
		filepath.Join(s.cfg.Paths.ThumbnailsDir, key+".jpg"),
		filepath.Join(s.cfg.Paths.ThumbnailsDir, key+".gif"),
	}
	if matches, err := filepath.Glob(filepath.Join(s.cfg.Paths.SourcesDir, key+".*")); err == nil {
		targets = append(targets, matches...)
	}
	for _, target := range targets {
		if err := os.RemoveAll(target); err != nil {
			s.logger.Warn("remove artifact", logging.String("path", target), logging.Error(err))
		}
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	job, err := s.ledger.GetByKey(r.Context(), key)
	if err != nil {
		s.logger.Error("get job", logging.String(logging.FieldJobKey, key), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	s.writeJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.ledger.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs": map[string]int{
			"total":      health.Total,
			"pending":    health.Pending,
			"processing": health.Processing,
			"completed":  health.Completed,
			"failed":     health.Failed,
		},
	})
}

func assetView(asset *assets.Asset) map[string]any {
	view := map[string]any{
		"success":   true,
		"assetId":   asset.Key,
		"fileName":  asset.FileName,
		"status":    string(asset.Status),
		"fileUrl":   asset.FileURL,
		"createdAt": asset.CreatedAt,
	}
	if asset.ProjectID != "" {
		view["projectId"] = asset.ProjectID
	}
	if asset.Status == assets.StatusReady {
		view["thumbnailUrl"] = asset.ThumbnailURL
		view["previewUrl"] = asset.PreviewURL
		view["playlistUrl"] = asset.PlaylistURL
		view["duration"] = asset.DurationSeconds
		view["resolution"] = asset.Resolution
	}
	if asset.Status == assets.StatusFailed {
		view["error"] = asset.ErrorMessage
	}
	return view
}

func jobView(job *ledger.Job) map[string]any {
	view := map[string]any{
		"success":   true,
		"jobId":     job.ID,
		"jobKey":    job.JobKey,
		"status":    string(job.Status),
		"createdAt": job.CreatedAt,
	}
	if job.StartedAt != nil {
		view["startedAt"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		view["completedAt"] = job.CompletedAt
	}
	if job.ErrorMessage != "" {
		view["error"] = job.ErrorMessage
	}
	return view
}
