package testsupport

import (
	"path/filepath"
	"testing"

	"frames/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.IncomingDir = filepath.Join(base, "incoming")
	cfg.Paths.SourcesDir = filepath.Join(base, "sources")
	cfg.Paths.ProcessedDir = filepath.Join(base, "processed")
	cfg.Paths.ThumbnailsDir = filepath.Join(base, "thumbnails")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.SweepInterval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithWorkers overrides the worker pool size on the test config.
func WithWorkers(workers int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.Workers = workers
	}
}

// WithLadder overrides the rendition ladder on the test config.
func WithLadder(ladder []config.Rendition) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Transcode.Renditions = ladder
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.IncomingDir)
}
