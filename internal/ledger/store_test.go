package ledger_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"frames/internal/ledger"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnqueueAndFetch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, "abc123", "/data/sources/abc123.mp4", "owner-7")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != ledger.StatusPending {
		t.Fatalf("new job status = %s", job.Status)
	}
	if job.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	byKey, err := store.GetByKey(ctx, "abc123")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if byKey == nil || byKey.ID != job.ID || byKey.OwnerID != "owner-7" {
		t.Fatalf("unexpected job: %+v", byKey)
	}

	if _, err := store.Enqueue(ctx, "abc123", "/data/sources/other.mp4", ""); err == nil {
		t.Fatal("expected unique key violation")
	}
}

func TestClaimExactlyOneWinner(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, "claim-race", "/data/sources/claim.mp4", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	const contenders = 8
	var wg sync.WaitGroup
	wins := make(chan bool, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.Claim(ctx, job.ID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	claimed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if claimed.Status != ledger.StatusProcessing || claimed.StartedAt == nil || claimed.LastHeartbeat == nil {
		t.Fatalf("claim did not stamp job: %+v", claimed)
	}
}

func TestTransitionsAreMonotone(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, "monotone", "/data/sources/monotone.mp4", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Completion requires a prior claim.
	if won, err := store.MarkCompleted(ctx, job.ID, `{}`); err != nil || won {
		t.Fatalf("completed pending job: won=%v err=%v", won, err)
	}

	if won, err := store.Claim(ctx, job.ID); err != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, err)
	}
	if won, err := store.MarkCompleted(ctx, job.ID, `{"playlist":"p.m3u8"}`); err != nil || !won {
		t.Fatalf("mark completed: won=%v err=%v", won, err)
	}

	// Terminal rows never transition again.
	if won, err := store.MarkFailed(ctx, job.ID, "late failure"); err != nil || won {
		t.Fatalf("failed a completed job: won=%v err=%v", won, err)
	}
	if won, err := store.MarkCompleted(ctx, job.ID, `{}`); err != nil || won {
		t.Fatalf("double completion: won=%v err=%v", won, err)
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != ledger.StatusCompleted || final.ArtifactsJSON != `{"playlist":"p.m3u8"}` {
		t.Fatalf("terminal state clobbered: %+v", final)
	}
	if final.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestMarkFailedFromPending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, "fail-early", "/data/sources/bad.mp4", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if won, err := store.MarkFailed(ctx, job.ID, "source vanished"); err != nil || !won {
		t.Fatalf("mark failed: won=%v err=%v", won, err)
	}

	failed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Status != ledger.StatusFailed || failed.ErrorMessage != "source vanished" {
		t.Fatalf("unexpected job: %+v", failed)
	}
}

func TestRequestCancel(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, err := store.Enqueue(ctx, "cancel-me", "/data/sources/cancel.mp4", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ok, err := store.RequestCancel(ctx, "cancel-me")
	if err != nil || !ok {
		t.Fatalf("request cancel: ok=%v err=%v", ok, err)
	}
	flagged, err := store.CancelRequested(ctx, job.ID)
	if err != nil || !flagged {
		t.Fatalf("cancel flag: flagged=%v err=%v", flagged, err)
	}

	if won, err := store.Claim(ctx, job.ID); err != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, err)
	}
	if won, err := store.MarkCompleted(ctx, job.ID, `{}`); err != nil || !won {
		t.Fatalf("mark completed: won=%v err=%v", won, err)
	}

	// Terminal jobs cannot be flagged.
	ok, err = store.RequestCancel(ctx, "cancel-me")
	if err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if ok {
		t.Fatal("cancel accepted on terminal job")
	}

	ok, err = store.RequestCancel(ctx, "no-such-job")
	if err != nil || ok {
		t.Fatalf("cancel on unknown key: ok=%v err=%v", ok, err)
	}
}

func TestStaleProcessing(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	stale, err := store.Enqueue(ctx, "stale", "/data/sources/stale.mp4", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	fresh, err := store.Enqueue(ctx, "fresh", "/data/sources/fresh.mp4", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for _, job := range []*ledger.Job{stale, fresh} {
		if won, err := store.Claim(ctx, job.ID); err != nil || !won {
			t.Fatalf("claim %d: won=%v err=%v", job.ID, won, err)
		}
	}

	// Heartbeats were stamped at claim time. A future cutoff catches both;
	// refresh one and split the cutoff between them.
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(20 * time.Millisecond)
	if err := store.UpdateHeartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	jobs, err := store.StaleProcessing(ctx, cutoff)
	if err != nil {
		t.Fatalf("stale processing: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != stale.ID {
		t.Fatalf("unexpected stale set: %+v", jobs)
	}
}

func TestStatsAndClear(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Enqueue(ctx, key, "/data/sources/"+key+".mp4", ""); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}
	jobA, _ := store.GetByKey(ctx, "a")
	if won, err := store.Claim(ctx, jobA.ID); err != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, err)
	}
	if won, err := store.MarkCompleted(ctx, jobA.ID, `{}`); err != nil || !won {
		t.Fatalf("complete: won=%v err=%v", won, err)
	}
	jobB, _ := store.GetByKey(ctx, "b")
	if won, err := store.MarkFailed(ctx, jobB.ID, "boom"); err != nil || !won {
		t.Fatalf("fail: won=%v err=%v", won, err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Total != 3 || health.Completed != 1 || health.Failed != 1 || health.Pending != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("clear completed: removed=%d err=%v", removed, err)
	}
	removed, err = store.ClearFailed(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("clear failed: removed=%d err=%v", removed, err)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].JobKey != "c" {
		t.Fatalf("unexpected remaining jobs: %+v", remaining)
	}
}
