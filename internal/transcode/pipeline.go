package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"frames/internal/config"
	"frames/internal/fileutil"
	"frames/internal/ledger"
	"frames/internal/logging"
	"frames/internal/media"
)

// ErrCancelled marks a job aborted because its owning resource was deleted
// mid-processing.
var ErrCancelled = errors.New("processing cancelled")

// Artifacts describes the published outputs of a completed job. Locations
// are externally visible URLs under the configured prefix.
type Artifacts struct {
	Thumbnail       string            `json:"thumbnail"`
	Preview         string            `json:"preview"`
	Renditions      map[string]string `json:"renditions"`
	Playlist        string            `json:"playlist"`
	DurationSeconds int               `json:"duration_seconds"`
	Resolution      string            `json:"resolution"`
}

// Encode serializes the artifact map for the ledger row.
func (a Artifacts) Encode() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode artifacts: %w", err)
	}
	return string(data), nil
}

// Pipeline drives the five-stage encode for one claimed job: probe,
// thumbnail, preview, renditions, adaptive playlist. All output is staged
// under a temp directory and published atomically at the end; any stage
// failure discards the staging area, so partial output is never visible.
type Pipeline struct {
	media  *media.Client
	store  *ledger.Store
	paths  config.Paths
	ladder []config.Rendition
	logger *slog.Logger
}

// NewPipeline builds a Pipeline.
func NewPipeline(client *media.Client, store *ledger.Store, paths config.Paths, ladder []config.Rendition, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		media:  client,
		store:  store,
		paths:  paths,
		ladder: ladder,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// TempDirName returns the staging directory name for a job key.
func TempDirName(jobKey string) string {
	return ".tmp-" + jobKey
}

// Run executes every stage for job and publishes the results. The
// cancellation flag is consulted between stages; a flagged job aborts with
// ErrCancelled before the next stage starts.
func (p *Pipeline) Run(ctx context.Context, job *ledger.Job) (Artifacts, error) {
	tmpDir := filepath.Join(p.paths.ProcessedDir, TempDirName(job.JobKey))
	if err := os.RemoveAll(tmpDir); err != nil {
		return Artifacts{}, fmt.Errorf("clear staging dir: %w", err)
	}
	if err := fileutil.EnsureDir(filepath.Join(tmpDir, "hls")); err != nil {
		return Artifacts{}, fmt.Errorf("create staging dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	probe, err := p.media.Probe(ctx, job.SourcePath)
	if err != nil {
		return Artifacts{}, fmt.Errorf("probe: %w", err)
	}
	p.stageDone(job, "probe")
	if err := p.checkpoint(ctx, job); err != nil {
		return Artifacts{}, err
	}

	thumbnail := filepath.Join(tmpDir, "thumbnail.jpg")
	if err := p.media.Thumbnail(ctx, job.SourcePath, thumbnail); err != nil {
		return Artifacts{}, fmt.Errorf("thumbnail: %w", err)
	}
	p.stageDone(job, "thumbnail")
	if err := p.checkpoint(ctx, job); err != nil {
		return Artifacts{}, err
	}

	preview := filepath.Join(tmpDir, "preview.gif")
	if err := p.media.Preview(ctx, job.SourcePath, preview); err != nil {
		return Artifacts{}, fmt.Errorf("preview: %w", err)
	}
	p.stageDone(job, "preview")
	if err := p.checkpoint(ctx, job); err != nil {
		return Artifacts{}, err
	}

	for _, rung := range p.ladder {
		output := filepath.Join(tmpDir, rung.Name()+".mp4")
		if err := p.media.Rendition(ctx, job.SourcePath, output, rung); err != nil {
			return Artifacts{}, fmt.Errorf("rendition %s: %w", rung.Name(), err)
		}
	}
	p.stageDone(job, "renditions")
	if err := p.checkpoint(ctx, job); err != nil {
		return Artifacts{}, err
	}

	if _, err := p.media.Segment(ctx, job.SourcePath, filepath.Join(tmpDir, "hls")); err != nil {
		return Artifacts{}, fmt.Errorf("segment: %w", err)
	}
	p.stageDone(job, "playlist")

	artifacts, err := p.publish(tmpDir, job.JobKey, probe)
	if err != nil {
		return Artifacts{}, err
	}
	published = true
	return artifacts, nil
}

// publish moves the staged outputs into their final, URL-addressable
// locations. Thumbnail and preview land in the thumbnails directory; the
// renditions and playlist directory is renamed into place whole.
func (p *Pipeline) publish(tmpDir, jobKey string, probe media.ProbeResult) (Artifacts, error) {
	if err := fileutil.EnsureDir(p.paths.ThumbnailsDir); err != nil {
		return Artifacts{}, fmt.Errorf("ensure thumbnails dir: %w", err)
	}

	thumbnail := filepath.Join(p.paths.ThumbnailsDir, jobKey+".jpg")
	if err := fileutil.MoveFile(filepath.Join(tmpDir, "thumbnail.jpg"), thumbnail); err != nil {
		return Artifacts{}, fmt.Errorf("publish thumbnail: %w", err)
	}
	preview := filepath.Join(p.paths.ThumbnailsDir, jobKey+".gif")
	if err := fileutil.MoveFile(filepath.Join(tmpDir, "preview.gif"), preview); err != nil {
		return Artifacts{}, fmt.Errorf("publish preview: %w", err)
	}

	finalDir := filepath.Join(p.paths.ProcessedDir, jobKey)
	if err := os.RemoveAll(finalDir); err != nil {
		return Artifacts{}, fmt.Errorf("clear final dir: %w", err)
	}
	if err := fileutil.MoveDir(tmpDir, finalDir); err != nil {
		return Artifacts{}, fmt.Errorf("publish outputs: %w", err)
	}

	artifacts := Artifacts{
		Thumbnail:       p.artifactURL("thumbnails", jobKey+".jpg"),
		Preview:         p.artifactURL("thumbnails", jobKey+".gif"),
		Renditions:      make(map[string]string, len(p.ladder)),
		Playlist:        p.artifactURL("processed", jobKey, "hls", "playlist.m3u8"),
		DurationSeconds: probe.DurationSeconds,
		Resolution:      probe.Resolution(),
	}
	for _, rung := range p.ladder {
		artifacts.Renditions[rung.Name()] = p.artifactURL("processed", jobKey, rung.Name()+".mp4")
	}
	return artifacts, nil
}

func (p *Pipeline) artifactURL(parts ...string) string {
	return path.Join(append([]string{p.paths.URLPrefix}, parts...)...)
}

// checkpoint aborts between stages when the job's cancellation flag is set
// or the job context has ended.
func (p *Pipeline) checkpoint(ctx context.Context, job *ledger.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cancelled, err := p.store.CancelRequested(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("check cancellation: %w", err)
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

func (p *Pipeline) stageDone(job *ledger.Job, stage string) {
	p.logger.Info("stage complete",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKey, job.JobKey),
		logging.String(logging.FieldStage, stage))
}
