package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	named := map[string]string{
		"paths.incoming_dir":   c.Paths.IncomingDir,
		"paths.sources_dir":    c.Paths.SourcesDir,
		"paths.processed_dir":  c.Paths.ProcessedDir,
		"paths.thumbnails_dir": c.Paths.ThumbnailsDir,
		"paths.log_dir":        c.Paths.LogDir,
	}
	for key, value := range named {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxFileGiB <= 0 {
		return errors.New("upload.max_file_gib must be positive")
	}
	if c.Upload.MinFreeGiB < 0 {
		return errors.New("upload.min_free_gib must not be negative")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if strings.TrimSpace(c.Transcode.FFmpegBinary) == "" {
		return errors.New("transcode.ffmpeg_binary must be set")
	}
	if strings.TrimSpace(c.Transcode.FFprobeBinary) == "" {
		return errors.New("transcode.ffprobe_binary must be set")
	}
	if c.Transcode.CRF < 0 || c.Transcode.CRF > 51 {
		return errors.New("transcode.crf must be between 0 and 51")
	}
	if c.Transcode.SegmentSeconds <= 0 {
		return errors.New("transcode.segment_seconds must be positive")
	}
	if len(c.Transcode.Renditions) == 0 {
		return errors.New("transcode.renditions must contain at least one entry")
	}
	seen := make(map[int]struct{}, len(c.Transcode.Renditions))
	for _, r := range c.Transcode.Renditions {
		if r.Height <= 0 {
			return fmt.Errorf("transcode rendition height %d must be positive", r.Height)
		}
		if strings.TrimSpace(r.Bitrate) == "" {
			return fmt.Errorf("transcode rendition %s needs a bitrate", r.Name())
		}
		if _, dup := seen[r.Height]; dup {
			return fmt.Errorf("transcode rendition %s listed twice", r.Name())
		}
		seen[r.Height] = struct{}{}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.QueueSize <= 0 {
		return errors.New("workflow.queue_size must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
