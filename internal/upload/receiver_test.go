package upload_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"frames/internal/upload"
)

func newReceiver(t *testing.T) (*upload.Receiver, string) {
	t.Helper()
	dir := t.TempDir()
	receiver := upload.NewReceiver(upload.NewTracker(), dir, 0, 0, nil)
	return receiver, dir
}

func meta(uploadID string, index, total int) upload.ChunkMeta {
	return upload.ChunkMeta{
		UploadID:    uploadID,
		FileName:    "clip.mp4",
		Index:       index,
		TotalChunks: total,
		ProjectID:   "proj-1",
		MediaType:   "video",
		OwnerID:     "owner-1",
	}
}

func TestReceiveChunkOutOfOrder(t *testing.T) {
	receiver, _ := newReceiver(t)
	ctx := context.Background()

	// Three 1 MiB chunks delivered 2, 0, 1. Only the last delivery completes.
	payloads := [][]byte{
		bytes.Repeat([]byte{'a'}, 1<<20),
		bytes.Repeat([]byte{'b'}, 1<<20),
		bytes.Repeat([]byte{'c'}, 1<<20),
	}

	for step, index := range []int{2, 0, 1} {
		result, err := receiver.ReceiveChunk(ctx, meta("u1", index, 3), bytes.NewReader(payloads[index]))
		if err != nil {
			t.Fatalf("chunk %d: %v", index, err)
		}
		wantComplete := step == 2
		if result.Complete != wantComplete {
			t.Fatalf("chunk %d: complete = %v, want %v", index, result.Complete, wantComplete)
		}
		if result.Received != step+1 {
			t.Fatalf("chunk %d: received = %d, want %d", index, result.Received, step+1)
		}
	}
}

func TestReceiveChunkDuplicateDelivery(t *testing.T) {
	receiver, _ := newReceiver(t)
	ctx := context.Background()

	if _, err := receiver.ReceiveChunk(ctx, meta("u2", 0, 2), strings.NewReader("first")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	// Redeliver chunk 0 with different content. It must overwrite, not append,
	// and must not count twice.
	result, err := receiver.ReceiveChunk(ctx, meta("u2", 0, 2), strings.NewReader("second"))
	if err != nil {
		t.Fatalf("redelivered chunk 0: %v", err)
	}
	if result.Received != 1 || result.Complete {
		t.Fatalf("duplicate counted: %+v", result)
	}

	data, err := os.ReadFile(upload.ChunkPath(receiver.SessionDir("u2"), 0))
	if err != nil {
		t.Fatalf("read staged chunk: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("staged chunk = %q, want overwrite", data)
	}
}

func TestReceiveChunkConcurrentCompletionTriggersOnce(t *testing.T) {
	receiver, _ := newReceiver(t)
	ctx := context.Background()
	const total = 16

	var wg sync.WaitGroup
	completions := make(chan bool, total*2)
	for round := 0; round < 2; round++ {
		for i := 0; i < total; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				result, err := receiver.ReceiveChunk(ctx, meta("u3", index, total), strings.NewReader("x"))
				if err != nil {
					t.Errorf("chunk %d: %v", index, err)
					return
				}
				completions <- result.Complete
			}(i)
		}
	}
	wg.Wait()
	close(completions)

	completed := 0
	for c := range completions {
		if c {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("completion fired %d times, want exactly 1", completed)
	}
}

func TestReceiveChunkAfterCompletionReportsFinishedState(t *testing.T) {
	receiver, _ := newReceiver(t)
	ctx := context.Background()

	result, err := receiver.ReceiveChunk(ctx, meta("u7", 0, 1), strings.NewReader("whole"))
	if err != nil || !result.Complete {
		t.Fatalf("completing chunk: result=%+v err=%v", result, err)
	}
	if err := receiver.RemoveChunks("u7"); err != nil {
		t.Fatalf("remove chunks: %v", err)
	}

	// Redelivery of the final chunk after its staging dir is consumed must
	// not re-stage anything and must not claim the completion again.
	dup, err := receiver.ReceiveChunk(ctx, meta("u7", 0, 1), strings.NewReader("whole"))
	if err != nil {
		t.Fatalf("redelivered chunk: %v", err)
	}
	if dup.Complete {
		t.Fatal("duplicate won the completion a second time")
	}
	if dup.Received != 1 || dup.Total != 1 || !dup.Session.Completed() {
		t.Fatalf("duplicate result = %+v", dup)
	}
	if _, statErr := os.Stat(receiver.SessionDir("u7")); !os.IsNotExist(statErr) {
		t.Fatal("duplicate chunk re-staged after completion")
	}
}

func TestDiscardStaleEvictsSessionsAndChunks(t *testing.T) {
	dir := t.TempDir()
	tracker := upload.NewTracker()
	receiver := upload.NewReceiver(tracker, dir, 0, 0, nil)
	ctx := context.Background()

	// One in-flight and one completed session; both age out together.
	if _, err := receiver.ReceiveChunk(ctx, meta("u8", 0, 2), strings.NewReader("x")); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if result, err := receiver.ReceiveChunk(ctx, meta("u9", 0, 1), strings.NewReader("x")); err != nil || !result.Complete {
		t.Fatalf("completing chunk: result=%+v err=%v", result, err)
	}

	if n := receiver.DiscardStale(time.Now().Add(-time.Minute)); n != 0 {
		t.Fatalf("evicted %d live sessions", n)
	}

	if n := receiver.DiscardStale(time.Now().Add(time.Minute)); n != 2 {
		t.Fatalf("evicted %d sessions, want 2", n)
	}
	if tracker.Get("u8") != nil || tracker.Get("u9") != nil {
		t.Fatal("tracker entries survived eviction")
	}
	if _, err := os.Stat(receiver.SessionDir("u8")); !os.IsNotExist(err) {
		t.Fatal("staged chunks survived eviction")
	}
}

func TestReceiveChunkRejectsBadMeta(t *testing.T) {
	receiver, _ := newReceiver(t)
	ctx := context.Background()

	cases := []upload.ChunkMeta{
		meta("", 0, 2),
		meta("u4", -1, 2),
		meta("u4", 2, 2),
		meta("u4", 0, 0),
		{UploadID: "u4", Index: 0, TotalChunks: 2},
	}
	for _, bad := range cases {
		if _, err := receiver.ReceiveChunk(ctx, bad, strings.NewReader("x")); !errors.Is(err, upload.ErrInvalidChunk) {
			t.Fatalf("meta %+v: err = %v, want ErrInvalidChunk", bad, err)
		}
	}

	// Chunk count may not drift after the first chunk pins it.
	if _, err := receiver.ReceiveChunk(ctx, meta("u5", 0, 3), strings.NewReader("x")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if _, err := receiver.ReceiveChunk(ctx, meta("u5", 1, 4), strings.NewReader("x")); !errors.Is(err, upload.ErrInvalidChunk) {
		t.Fatalf("drifting count accepted: %v", err)
	}
}

func TestReceiveChunkEnforcesSizeLimit(t *testing.T) {
	dir := t.TempDir()
	receiver := upload.NewReceiver(upload.NewTracker(), dir, 16, 0, nil)

	_, err := receiver.ReceiveChunk(context.Background(), meta("u6", 0, 1), strings.NewReader(strings.Repeat("x", 64)))
	if !errors.Is(err, upload.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if _, statErr := os.Stat(upload.ChunkPath(filepath.Join(dir, "u6"), 0)); !os.IsNotExist(statErr) {
		t.Fatal("oversized chunk left staged")
	}
}
