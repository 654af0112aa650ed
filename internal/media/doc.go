// Package media wraps ffmpeg and ffprobe for probing sources and producing
// thumbnails, previews, ladder renditions, and HLS segments.
package media
