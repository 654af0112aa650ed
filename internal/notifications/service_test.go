package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"frames/internal/config"
	"frames/internal/notifications"
)

type captured struct {
	body     string
	title    string
	tags     string
	priority string
}

func newTestService(t *testing.T) (notifications.Service, *[]captured) {
	t.Helper()
	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, captured{
			body:     string(body),
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	return notifications.NewService(&cfg), &requests
}

func TestNotifyProcessingCompleted(t *testing.T) {
	service, requests := newTestService(t)

	err := service.NotifyProcessingCompleted(context.Background(), "clip.mp4", "abc123", 95*time.Second)
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(*requests))
	}

	got := (*requests)[0]
	if got.title != "Frames - Ready" {
		t.Fatalf("title = %q", got.title)
	}
	if !strings.Contains(got.body, "clip.mp4") || !strings.Contains(got.body, "abc123") {
		t.Fatalf("body = %q", got.body)
	}
	if got.priority != "high" {
		t.Fatalf("priority = %q", got.priority)
	}
}

func TestNotifyProcessingFailedCarriesReason(t *testing.T) {
	service, requests := newTestService(t)

	err := service.NotifyProcessingFailed(context.Background(), "clip.mp4", "abc123", "probe failed")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := (*requests)[0]
	if !strings.Contains(got.body, "probe failed") {
		t.Fatalf("body = %q", got.body)
	}
	if got.tags != "frames,transcode,failed" {
		t.Fatalf("tags = %q", got.tags)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	service := notifications.NewService(&cfg)

	err := service.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want 404 in message", err)
	}
}

func TestNoopWithoutTopic(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	service := notifications.NewService(&cfg)

	if err := service.NotifyUploadCompleted(context.Background(), "clip.mp4", "abc123"); err != nil {
		t.Fatalf("noop notify: %v", err)
	}
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop test: %v", err)
	}
}
