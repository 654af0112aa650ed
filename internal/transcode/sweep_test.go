package transcode_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"frames/internal/assets"
	"frames/internal/ledger"
	"frames/internal/transcode"
	"frames/internal/upload"
)

func newSweeper(t *testing.T, pf *poolFixture) *transcode.Sweeper {
	t.Helper()
	cfg := pf.cfg.Workflow
	cfg.HeartbeatTimeout = 1
	return transcode.NewSweeper(pf.store, pf.catalog, pf.notifier, nil, pf.cfg.Paths, cfg, nil)
}

func TestSweepFailsHeartbeatExpiredJobs(t *testing.T) {
	pf := newPoolFixture(t)
	sweeper := newSweeper(t, pf)
	ctx := context.Background()

	job := pf.newJob(t, "sweep1")
	pf.newAsset(t, "sweep1")
	if won, err := pf.store.Claim(ctx, job.ID); err != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, err)
	}

	// Let the claim-time heartbeat cross the 1s timeout.
	time.Sleep(1200 * time.Millisecond)
	sweeper.Sweep(ctx)

	swept, err := pf.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if swept.Status != ledger.StatusFailed || swept.ErrorMessage != "worker lost: heartbeat expired" {
		t.Fatalf("unexpected job: %+v", swept)
	}

	asset, err := pf.catalog.GetByKey(ctx, "sweep1")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != assets.StatusFailed {
		t.Fatalf("asset status = %s", asset.Status)
	}

	_, failed := pf.notifier.counts()
	if failed != 1 {
		t.Fatalf("failure notifications = %d, want exactly 1", failed)
	}

	// A second sweep finds nothing; the terminal transition already happened.
	sweeper.Sweep(ctx)
	_, failed = pf.notifier.counts()
	if failed != 1 {
		t.Fatalf("sweep renotified a terminal job: %d notifications", failed)
	}
}

func TestSweeperStartReturnsImmediately(t *testing.T) {
	pf := newPoolFixture(t)
	sweeper := newSweeper(t, pf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := pf.newJob(t, "sweepbg")
	pf.newAsset(t, "sweepbg")
	if won, err := pf.store.Claim(ctx, job.ID); err != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, err)
	}
	time.Sleep(1200 * time.Millisecond)

	// The loop runs detached; a blocking Start would stall the caller for
	// the life of the context.
	started := time.Now()
	sweeper.Start(ctx)
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("Start blocked the caller for %v", elapsed)
	}

	swept := waitForStatus(t, pf.store, job.ID, ledger.StatusFailed)
	if swept.ErrorMessage != "worker lost: heartbeat expired" {
		t.Fatalf("unexpected reason: %q", swept.ErrorMessage)
	}

	cancel()
	sweeper.Wait()
}

func TestSweepEvictsExpiredUploadSessions(t *testing.T) {
	pf := newPoolFixture(t)
	tracker := upload.NewTracker()
	receiver := upload.NewReceiver(tracker, t.TempDir(), 0, 0, nil)
	sweeper := transcode.NewSweeper(pf.store, pf.catalog, pf.notifier, receiver, pf.cfg.Paths, pf.cfg.Workflow, nil)

	expired := tracker.Ensure(upload.ChunkMeta{UploadID: "expired", FileName: "a.mp4", TotalChunks: 2})
	expired.CreatedAt = time.Now().Add(-2 * upload.SessionTTL)
	tracker.Ensure(upload.ChunkMeta{UploadID: "fresh", FileName: "b.mp4", TotalChunks: 2})

	sweeper.Sweep(context.Background())

	if tracker.Get("expired") != nil {
		t.Fatal("expired session survived the sweep")
	}
	if tracker.Get("fresh") == nil {
		t.Fatal("fresh session evicted")
	}
}

func TestSweepReclaimsOrphanedStagingDirs(t *testing.T) {
	pf := newPoolFixture(t)
	sweeper := newSweeper(t, pf)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)

	// Orphan: no ledger row at all.
	orphan := filepath.Join(pf.cfg.Paths.ProcessedDir, transcode.TempDirName("ghost"))
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Chtimes(orphan, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// Live: processing job with a fresh heartbeat keeps its staging dir.
	job := pf.newJob(t, "alive")
	if won, err := pf.store.Claim(ctx, job.ID); err != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, err)
	}
	live := filepath.Join(pf.cfg.Paths.ProcessedDir, transcode.TempDirName("alive"))
	if err := os.MkdirAll(live, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Chtimes(live, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// Fresh orphan inside the grace period survives.
	fresh := filepath.Join(pf.cfg.Paths.ProcessedDir, transcode.TempDirName("fresh"))
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	sweeper.Sweep(ctx)

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("orphaned staging dir not reclaimed")
	}
	if _, err := os.Stat(live); err != nil {
		t.Fatalf("live staging dir reclaimed: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh staging dir reclaimed: %v", err)
	}
}
