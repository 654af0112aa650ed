package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	// IncomingDir stages in-flight chunk uploads, one subdirectory per session.
	IncomingDir string `toml:"incoming_dir"`
	// SourcesDir holds reassembled raw source files.
	SourcesDir string `toml:"sources_dir"`
	// ProcessedDir holds renditions and HLS output.
	ProcessedDir string `toml:"processed_dir"`
	// ThumbnailsDir holds thumbnails and animated previews.
	ThumbnailsDir string `toml:"thumbnails_dir"`
	LogDir        string `toml:"log_dir"`
	APIBind       string `toml:"api_bind"`
	// URLPrefix is the externally visible prefix under which the sources,
	// processed, and thumbnails directories are served.
	URLPrefix string `toml:"url_prefix"`
}

// Upload contains limits for chunked ingestion.
type Upload struct {
	MaxFileGiB int `toml:"max_file_gib"`
	// MinFreeGiB rejects new chunks when the staging volume has less free
	// space than this floor.
	MinFreeGiB int `toml:"min_free_gib"`
}

// Rendition is one rung of the encode ladder.
type Rendition struct {
	Height  int    `toml:"height"`
	Bitrate string `toml:"bitrate"`
}

// Name returns the rendition label used in artifact maps ("1080p").
func (r Rendition) Name() string {
	return fmt.Sprintf("%dp", r.Height)
}

// Transcode contains encoding tool settings and the rendition ladder.
type Transcode struct {
	FFmpegBinary   string      `toml:"ffmpeg_binary"`
	FFprobeBinary  string      `toml:"ffprobe_binary"`
	Preset         string      `toml:"preset"`
	CRF            int         `toml:"crf"`
	AudioBitrate   string      `toml:"audio_bitrate"`
	ThumbnailWidth int         `toml:"thumbnail_width"`
	PreviewSeconds int         `toml:"preview_seconds"`
	PreviewWidth   int         `toml:"preview_width"`
	PreviewFPS     int         `toml:"preview_fps"`
	SegmentSeconds int         `toml:"segment_seconds"`
	Renditions     []Rendition `toml:"renditions"`
}

// Workflow contains worker pool sizing and sweep timing.
type Workflow struct {
	Workers           int `toml:"workers"`
	QueueSize         int `toml:"queue_size"`
	JobTimeoutMinutes int `toml:"job_timeout_minutes"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	SweepInterval     int `toml:"sweep_interval"`
	SweepGraceMinutes int `toml:"sweep_grace_minutes"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration for the frames daemon and CLI.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Upload        Upload        `toml:"upload"`
	Transcode     Transcode     `toml:"transcode"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/frames/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a file was found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// applyEnvOverrides lets secrets live outside the config file.
func applyEnvOverrides(cfg *Config) {
	if topic := strings.TrimSpace(os.Getenv("FRAMES_NTFY_TOPIC")); topic != "" {
		cfg.Notifications.NtfyTopic = topic
	}
	if bind := strings.TrimSpace(os.Getenv("FRAMES_API_BIND")); bind != "" {
		cfg.Paths.APIBind = bind
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("frames.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon needs to operate.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.IncomingDir,
		c.Paths.SourcesDir,
		c.Paths.ProcessedDir,
		c.Paths.ThumbnailsDir,
		c.Paths.LogDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		pathValue = filepath.Join(home, strings.TrimPrefix(pathValue, "~"))
	}
	return filepath.Abs(pathValue)
}

func (c *Config) normalize() error {
	paths := []*string{
		&c.Paths.IncomingDir,
		&c.Paths.SourcesDir,
		&c.Paths.ProcessedDir,
		&c.Paths.ThumbnailsDir,
		&c.Paths.LogDir,
	}
	for _, p := range paths {
		expanded, err := expandPath(strings.TrimSpace(*p))
		if err != nil {
			return err
		}
		*p = expanded
	}
	c.Paths.URLPrefix = "/" + strings.Trim(strings.TrimSpace(c.Paths.URLPrefix), "/")
	if c.Paths.URLPrefix == "/" {
		c.Paths.URLPrefix = defaultURLPrefix
	}
	return nil
}
