package transcode_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"frames/internal/assets"
	"frames/internal/ledger"
	"frames/internal/testsupport"
	"frames/internal/transcode"
)

type fakeNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (f *fakeNotifier) NotifyUploadCompleted(context.Context, string, string) error { return nil }

func (f *fakeNotifier) NotifyProcessingCompleted(_ context.Context, _ string, assetKey string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, assetKey)
	return nil
}

func (f *fakeNotifier) NotifyProcessingFailed(_ context.Context, _ string, assetKey, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, assetKey)
	return nil
}

func (f *fakeNotifier) NotifyError(context.Context, error, string) error { return nil }
func (f *fakeNotifier) TestNotification(context.Context) error           { return nil }

func (f *fakeNotifier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed), len(f.failed)
}

type poolFixture struct {
	*fixture
	catalog  *assets.Store
	notifier *fakeNotifier
	pool     *transcode.Pool
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	f := newFixture(t)
	catalog := testsupport.NewAssets(t)
	notifier := &fakeNotifier{}
	pool := transcode.NewPool(f.store, f.pipeline, catalog, notifier, f.cfg.Workflow, nil)
	return &poolFixture{fixture: f, catalog: catalog, notifier: notifier, pool: pool}
}

func (pf *poolFixture) newAsset(t *testing.T, key string) {
	t.Helper()
	if _, err := pf.catalog.Create(context.Background(), &assets.Asset{Key: key, FileName: key + ".mp4"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}
}

func waitForAssetStatus(t *testing.T, catalog *assets.Store, key string, want assets.Status) *assets.Asset {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		asset, err := catalog.GetByKey(context.Background(), key)
		if err != nil {
			t.Fatalf("get asset: %v", err)
		}
		if asset != nil && asset.Status == want {
			return asset
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("asset %s never reached %s", key, want)
	return nil
}

func waitForStatus(t *testing.T, store *ledger.Store, id int64, want ledger.Status) *ledger.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d never reached %s", id, want)
	return nil
}

func TestPoolCompletesJob(t *testing.T) {
	pf := newPoolFixture(t)
	job := pf.newJob(t, "pool1")
	pf.newAsset(t, "pool1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pf.pool.Start(ctx)
	defer pf.pool.Wait()
	pf.pool.Enqueue(job.ID)

	done := waitForStatus(t, pf.store, job.ID, ledger.StatusCompleted)
	if done.ArtifactsJSON == "" {
		t.Fatal("artifacts not recorded on ledger row")
	}

	// The asset update lands after the ledger transition.
	asset := waitForAssetStatus(t, pf.catalog, "pool1", assets.StatusReady)
	if asset.DurationSeconds != 42 || asset.Resolution != "1920x1080" {
		t.Fatalf("media info not recorded: %+v", asset)
	}
	if asset.PlaylistURL != "/uploads/processed/pool1/hls/playlist.m3u8" {
		t.Fatalf("playlist url = %q", asset.PlaylistURL)
	}

	cancel()
	pf.pool.Wait()
	completed, failed := pf.notifier.counts()
	if completed != 1 || failed != 0 {
		t.Fatalf("notifications: completed=%d failed=%d, want exactly one completion", completed, failed)
	}
}

func TestPoolFailsJobOnToolError(t *testing.T) {
	pf := newPoolFixture(t)
	pf.exec.FailStage("probe", errors.New("exit status 1"))
	job := pf.newJob(t, "pool2")
	pf.newAsset(t, "pool2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pf.pool.Start(ctx)
	pf.pool.Enqueue(job.ID)

	failedJob := waitForStatus(t, pf.store, job.ID, ledger.StatusFailed)
	if !strings.Contains(failedJob.ErrorMessage, "probe") {
		t.Fatalf("diagnostic not recorded: %q", failedJob.ErrorMessage)
	}

	waitForAssetStatus(t, pf.catalog, "pool2", assets.StatusFailed)

	cancel()
	pf.pool.Wait()
	completed, failed := pf.notifier.counts()
	if completed != 0 || failed != 1 {
		t.Fatalf("notifications: completed=%d failed=%d, want exactly one failure", completed, failed)
	}
}

func TestPoolCancelledJobFailsWithCancellationReason(t *testing.T) {
	pf := newPoolFixture(t)
	job := pf.newJob(t, "pool3")
	pf.newAsset(t, "pool3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Flag before any worker claims; the first checkpoint aborts the run.
	if ok, err := pf.store.RequestCancel(ctx, "pool3"); err != nil || !ok {
		t.Fatalf("request cancel: ok=%v err=%v", ok, err)
	}

	pf.pool.Start(ctx)
	pf.pool.Enqueue(job.ID)

	failedJob := waitForStatus(t, pf.store, job.ID, ledger.StatusFailed)
	if failedJob.ErrorMessage != "cancelled: owning resource deleted" {
		t.Fatalf("reason = %q", failedJob.ErrorMessage)
	}
	if pf.exec.StageCalls("rendition") != 0 {
		t.Fatal("renditions ran after cancellation")
	}

	cancel()
	pf.pool.Wait()
}

func TestPoolCancelMidStageRecordsCancellationReason(t *testing.T) {
	pf := newPoolFixture(t)
	job := pf.newJob(t, "pool5")
	pf.newAsset(t, "pool5")

	// Park the thumbnail stage so the cancel lands while a stage is in
	// flight; the abort then surfaces as a context error, not a checkpoint.
	entered, release := pf.exec.BlockStage("thumbnail")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pf.pool.Start(ctx)
	pf.pool.Enqueue(job.ID)

	select {
	case <-entered:
	case <-time.After(10 * time.Second):
		t.Fatal("thumbnail stage never started")
	}

	if ok, err := pf.pool.Cancel(context.Background(), "pool5"); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	failedJob := waitForStatus(t, pf.store, job.ID, ledger.StatusFailed)
	if failedJob.ErrorMessage != "cancelled: owning resource deleted" {
		t.Fatalf("reason = %q", failedJob.ErrorMessage)
	}
	waitForAssetStatus(t, pf.catalog, "pool5", assets.StatusFailed)

	cancel()
	pf.pool.Wait()
	completed, failed := pf.notifier.counts()
	if completed != 0 || failed != 1 {
		t.Fatalf("notifications: completed=%d failed=%d, want exactly one failure", completed, failed)
	}
}

func TestPoolLosesClaimWithoutSideEffects(t *testing.T) {
	pf := newPoolFixture(t)
	job := pf.newJob(t, "pool4")
	pf.newAsset(t, "pool4")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Another worker already holds the claim.
	if won, err := pf.store.Claim(ctx, job.ID); err != nil || !won {
		t.Fatalf("pre-claim: won=%v err=%v", won, err)
	}

	pf.pool.Start(ctx)
	pf.pool.Enqueue(job.ID)
	time.Sleep(200 * time.Millisecond)

	current, err := pf.store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if current.Status != ledger.StatusProcessing {
		t.Fatalf("status = %s, want untouched processing", current.Status)
	}
	if calls := pf.exec.Calls(); len(calls) != 0 {
		t.Fatalf("pipeline ran for a lost claim: %d calls", len(calls))
	}

	cancel()
	pf.pool.Wait()
	completed, failed := pf.notifier.counts()
	if completed != 0 || failed != 0 {
		t.Fatalf("side effects from lost claim: completed=%d failed=%d", completed, failed)
	}
}
