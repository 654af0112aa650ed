package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"frames/internal/config"
)

// Thumbnail grabs a single frame one second in, scaled to the configured
// width with aspect preserved.
func (c *Client) Thumbnail(ctx context.Context, input, output string) error {
	args := []string{
		"-y",
		"-i", input,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", c.cfg.ThumbnailWidth),
		"-q:v", "2",
		output,
	}
	if out, err := c.exec.Run(ctx, c.ffmpeg, args...); err != nil {
		return wrapToolError(c.ffmpeg, args, out, err)
	}
	return nil
}

// Preview produces a short animated GIF from the head of the source.
func (c *Client) Preview(ctx context.Context, input, output string) error {
	args := []string{
		"-y",
		"-i", input,
		"-t", strconv.Itoa(c.cfg.PreviewSeconds),
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos", c.cfg.PreviewFPS, c.cfg.PreviewWidth),
		output,
	}
	if out, err := c.exec.Run(ctx, c.ffmpeg, args...); err != nil {
		return wrapToolError(c.ffmpeg, args, out, err)
	}
	return nil
}

// Rendition encodes one ladder rung as a progressive MP4. The scale filter
// pins height and keeps the width even, and maxrate/bufsize cap the encoder
// at the rung's target bitrate.
func (c *Client) Rendition(ctx context.Context, input, output string, rung config.Rendition) error {
	args := []string{
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-preset", c.cfg.Preset,
		"-crf", strconv.Itoa(c.cfg.CRF),
		"-vf", fmt.Sprintf("scale=-2:%d", rung.Height),
		"-b:v", rung.Bitrate,
		"-maxrate", rung.Bitrate,
		"-bufsize", rung.Bitrate,
		"-c:a", "aac",
		"-b:a", c.cfg.AudioBitrate,
		"-movflags", "+faststart",
		output,
	}
	if out, err := c.exec.Run(ctx, c.ffmpeg, args...); err != nil {
		return wrapToolError(c.ffmpeg, args, out, err)
	}
	return nil
}

// Segment splits input into an HLS VOD playlist inside outputDir and returns
// the playlist path.
func (c *Client) Segment(ctx context.Context, input, outputDir string) (string, error) {
	playlist := filepath.Join(outputDir, "playlist.m3u8")
	args := []string{
		"-y",
		"-i", input,
		"-hls_time", strconv.Itoa(c.cfg.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%d.ts"),
		playlist,
	}
	if out, err := c.exec.Run(ctx, c.ffmpeg, args...); err != nil {
		return "", wrapToolError(c.ffmpeg, args, out, err)
	}
	return playlist, nil
}
