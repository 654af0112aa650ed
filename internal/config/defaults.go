package config

const (
	defaultIncomingDir       = "~/.local/share/frames/incoming"
	defaultSourcesDir        = "~/.local/share/frames/sources"
	defaultProcessedDir      = "~/.local/share/frames/processed"
	defaultThumbnailsDir     = "~/.local/share/frames/thumbnails"
	defaultLogDir            = "~/.local/share/frames/logs"
	defaultAPIBind           = "127.0.0.1:8750"
	defaultURLPrefix         = "/uploads"
	defaultMaxFileGiB        = 10
	defaultMinFreeGiB        = 5
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultPreset            = "medium"
	defaultCRF               = 23
	defaultAudioBitrate      = "128k"
	defaultThumbnailWidth    = 1280
	defaultPreviewSeconds    = 3
	defaultPreviewWidth      = 480
	defaultPreviewFPS        = 10
	defaultSegmentSeconds    = 10
	defaultWorkers           = 2
	defaultQueueSize         = 64
	defaultJobTimeoutMinutes = 30
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultSweepInterval     = 300
	defaultSweepGraceMinutes = 10
	defaultNotifyTimeout     = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// DefaultLadder is the fixed height-to-bitrate encode ladder.
func DefaultLadder() []Rendition {
	return []Rendition{
		{Height: 1080, Bitrate: "5000k"},
		{Height: 720, Bitrate: "2500k"},
		{Height: 480, Bitrate: "1000k"},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			IncomingDir:   defaultIncomingDir,
			SourcesDir:    defaultSourcesDir,
			ProcessedDir:  defaultProcessedDir,
			ThumbnailsDir: defaultThumbnailsDir,
			LogDir:        defaultLogDir,
			APIBind:       defaultAPIBind,
			URLPrefix:     defaultURLPrefix,
		},
		Upload: Upload{
			MaxFileGiB: defaultMaxFileGiB,
			MinFreeGiB: defaultMinFreeGiB,
		},
		Transcode: Transcode{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			Preset:         defaultPreset,
			CRF:            defaultCRF,
			AudioBitrate:   defaultAudioBitrate,
			ThumbnailWidth: defaultThumbnailWidth,
			PreviewSeconds: defaultPreviewSeconds,
			PreviewWidth:   defaultPreviewWidth,
			PreviewFPS:     defaultPreviewFPS,
			SegmentSeconds: defaultSegmentSeconds,
			Renditions:     DefaultLadder(),
		},
		Workflow: Workflow{
			Workers:           defaultWorkers,
			QueueSize:         defaultQueueSize,
			JobTimeoutMinutes: defaultJobTimeoutMinutes,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			SweepInterval:     defaultSweepInterval,
			SweepGraceMinutes: defaultSweepGraceMinutes,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
