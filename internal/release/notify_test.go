package release

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

func sampleRelease() model.Release {
	return model.Release{
		ID:          "rel-1",
		Version:     "1.2.0",
		Type:        model.ReleaseMinor,
		ContentHash: "abc123",
		RuleIDs:     []string{"rule-1", "rule-2"},
		CreatedAt:   time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifier_PostsReleaseEvent(t *testing.T) {
	var got releaseEvent
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Expected a JSON body, got %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), sampleRelease()); err != nil {
		t.Fatalf("Expected notification to succeed, got %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("Expected application/json, got %q", contentType)
	}
	if got.Version != "1.2.0" || got.ContentHash != "abc123" {
		t.Errorf("Expected the release payload on the wire, got %+v", got)
	}
	if len(got.RuleIDs) != 2 {
		t.Errorf("Expected rule ids in the event, got %v", got.RuleIDs)
	}
}

func TestWebhookNotifier_ErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), sampleRelease()); err == nil {
		t.Fatal("Expected a non-2xx response to surface as an error")
	}
}

func TestNoopNotifier(t *testing.T) {
	if err := (NoopNotifier{}).Notify(context.Background(), sampleRelease()); err != nil {
		t.Fatalf("Expected the noop notifier to succeed, got %v", err)
	}
}
