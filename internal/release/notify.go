package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/normativhq/normativ/internal/model"
)

// Notifier announces a published release to downstream consumers. By the
// time it runs the release is already immutable; failures are logged by the
// caller and never unwind a publish.
type Notifier interface {
	Notify(ctx context.Context, release model.Release) error
}

// NoopNotifier ignores every release
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, model.Release) error { return nil }

// WebhookNotifier posts release metadata to one configured URL
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a notifier with its own bounded HTTP client
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type releaseEvent struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	ContentHash string    `json:"content_hash"`
	RuleIDs     []string  `json:"rule_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, release model.Release) error {
	body, err := json.Marshal(releaseEvent{
		Version:     release.Version,
		Type:        string(release.Type),
		ContentHash: release.ContentHash,
		RuleIDs:     release.RuleIDs,
		CreatedAt:   release.CreatedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting release event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("release webhook returned status %d", resp.StatusCode)
	}
	return nil
}
