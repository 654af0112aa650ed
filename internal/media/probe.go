package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// ProbeResult holds the metadata extracted from a source file.
type ProbeResult struct {
	// DurationSeconds is the container duration truncated to whole seconds.
	DurationSeconds int
	Width           int
	Height          int
	VideoCodec      string
	AudioCodec      string
	FormatName      string
	SizeBytes       int64
}

// Resolution returns the video dimensions as "WxH", or "" when no video
// stream was found.
func (p ProbeResult) Resolution() string {
	if p.Width == 0 && p.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// Probe runs ffprobe against input and extracts duration, resolution, and
// codec details.
func (c *Client) Probe(ctx context.Context, input string) (ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}
	output, err := c.exec.Run(ctx, c.ffprobe, args...)
	if err != nil {
		return ProbeResult{}, wrapToolError(c.ffprobe, args, output, err)
	}

	var raw probeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %s: parse output: %v", ErrToolInvocation, c.ffprobe, err)
	}

	result := ProbeResult{FormatName: raw.Format.FormatName}
	if raw.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(raw.Format.Duration, 64)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("%w: %s: parse duration %q: %v", ErrToolInvocation, c.ffprobe, raw.Format.Duration, err)
		}
		result.DurationSeconds = int(seconds)
	}
	if raw.Format.Size != "" {
		if size, err := strconv.ParseInt(raw.Format.Size, 10, 64); err == nil {
			result.SizeBytes = size
		}
	}
	for _, stream := range raw.Streams {
		switch stream.CodecType {
		case "video":
			if result.Width == 0 && result.Height == 0 {
				result.Width = stream.Width
				result.Height = stream.Height
				result.VideoCodec = stream.CodecName
			}
		case "audio":
			if result.AudioCodec == "" {
				result.AudioCodec = stream.CodecName
			}
		}
	}
	return result, nil
}
