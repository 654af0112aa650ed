package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"frames/internal/config"
	"frames/internal/ledger"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.IncomingDir = filepath.Join(base, "incoming")
	cfgVal.Paths.SourcesDir = filepath.Join(base, "sources")
	cfgVal.Paths.ProcessedDir = filepath.Join(base, "processed")
	cfgVal.Paths.ThumbnailsDir = filepath.Join(base, "thumbnails")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfg := &cfgVal

	configPath := filepath.Join(base, "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (env *cliTestEnv) openLedger(t *testing.T) *ledger.Store {
	t.Helper()
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	store, err := ledger.Open(filepath.Join(env.cfg.Paths.LogDir, "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCLIJobsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	out, err := runCLI(t, env, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	if !strings.Contains(out, "No jobs queued") {
		t.Fatalf("empty list output = %q", out)
	}

	store := env.openLedger(t)
	job, err := store.Enqueue(ctx, "abc123", filepath.Join(env.baseDir, "sources", "abc123.mp4"), "owner-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed, err := store.Enqueue(ctx, "def456", filepath.Join(env.baseDir, "sources", "def456.mp4"), "owner-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.MarkFailed(ctx, failed.ID, "probe exploded"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	out, err = runCLI(t, env, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	for _, want := range []string{"abc123", "def456", "pending", "failed", "probe exploded"} {
		if !strings.Contains(out, want) {
			t.Fatalf("list output missing %q: %q", want, out)
		}
	}

	out, err = runCLI(t, env, "jobs", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("jobs list --status: %v", err)
	}
	if strings.Contains(out, "abc123") || !strings.Contains(out, "def456") {
		t.Fatalf("filtered list output = %q", out)
	}

	out, err = runCLI(t, env, "jobs", "status")
	if err != nil {
		t.Fatalf("jobs status: %v", err)
	}
	if !strings.Contains(out, "pending") || !strings.Contains(out, "failed") {
		t.Fatalf("status output = %q", out)
	}

	out, err = runCLI(t, env, "jobs", "clear", "--failed")
	if err != nil {
		t.Fatalf("jobs clear: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 failed jobs") {
		t.Fatalf("clear output = %q", out)
	}

	if out, err = runCLI(t, env, "jobs", "remove", "nope"); err == nil {
		t.Fatalf("jobs remove with bad id succeeded: %q", out)
	}

	out, err = runCLI(t, env, "jobs", "remove", "99")
	if err != nil {
		t.Fatalf("jobs remove: %v", err)
	}
	if !strings.Contains(out, "Job 99 not found") {
		t.Fatalf("remove output = %q", out)
	}

	out, err = runCLI(t, env, "jobs", "remove", strconv.FormatInt(job.ID, 10))
	if err != nil {
		t.Fatalf("jobs remove: %v", err)
	}
	if !strings.Contains(out, "removed") {
		t.Fatalf("remove output = %q", out)
	}
}

func TestCLIJobsClearRequiresMode(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "jobs", "clear"); err == nil {
		t.Fatal("jobs clear without flags succeeded")
	}
	if _, err := runCLI(t, env, "jobs", "clear", "--completed", "--failed"); err == nil {
		t.Fatal("jobs clear with both flags succeeded")
	}
}

func TestCLIAssetsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "assets", "list")
	if err != nil {
		t.Fatalf("assets list: %v", err)
	}
	if !strings.Contains(out, "No assets") {
		t.Fatalf("assets output = %q", out)
	}
}

func TestCLIHealth(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "Total") || !strings.Contains(out, "ledger.db") {
		t.Fatalf("health output = %q", out)
	}
}

func TestCLIConfigCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(env.baseDir, "fresh", "config.toml")
	out, err := runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("init output = %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	// A second init against the same path refuses to overwrite.
	if _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("config init overwrote existing file")
	}

	out, err = runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("validate output = %q", out)
	}
}

func TestCLITestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	if !strings.Contains(out, "not configured") {
		t.Fatalf("test-notify output = %q", out)
	}
}
