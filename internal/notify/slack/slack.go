// Package slack forwards error toasts to Slack via an incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/ccgate/internal/notify"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts toasts to a Slack webhook.
type Notifier struct {
	webhookURL string
	source     string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, Forward is a no-op.
// source names the deployment in the message footer.
func New(webhookURL, source string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		source:     source,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Forward posts t to the configured webhook.
func (n *Notifier) Forward(ctx context.Context, t notify.Toast) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(t, n.source))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "toast forwarded to slack", "toast_id", t.ID)
	return nil
}

func buildMessage(t notify.Toast, source string) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("%s %s", levelEmoji(t.Level), truncate(t.Message, maxMessageLen)),
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("%s • %s • %s", source, t.ID, t.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
					},
				},
			},
		},
	}
}

func levelEmoji(level notify.Level) string {
	switch level {
	case notify.LevelError:
		return "\U0001f534" // red circle
	case notify.LevelWarning:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
