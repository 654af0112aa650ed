package media

import (
	"errors"
	"strings"

	"frames/internal/config"
)

// Client wraps ffmpeg and ffprobe CLI interactions.
type Client struct {
	ffmpeg  string
	ffprobe string
	cfg     config.Transcode
	exec    Executor
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// New constructs a media client from transcode settings.
func New(cfg config.Transcode, opts ...Option) (*Client, error) {
	ffmpeg := strings.TrimSpace(cfg.FFmpegBinary)
	if ffmpeg == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	ffprobe := strings.TrimSpace(cfg.FFprobeBinary)
	if ffprobe == "" {
		return nil, errors.New("ffprobe binary required")
	}
	client := &Client{
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		cfg:     cfg,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}
