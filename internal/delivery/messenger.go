package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookMessenger delivers suggestion batches by POSTing them to a chat
// webhook (Slack-compatible payload shape).
type WebhookMessenger struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookMessenger creates a messenger for the given webhook URL.
func NewWebhookMessenger(url string, logger *slog.Logger) (*WebhookMessenger, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookMessenger{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}, nil
}

// Send posts one message. A non-2xx response is an error; the caller
// decides whether to care.
func (m *WebhookMessenger) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogMessenger writes outbound messages to the log. It backs headless and
// dry-run modes where no chat channel is configured.
type LogMessenger struct {
	logger *slog.Logger
}

// NewLogMessenger creates a log-backed messenger.
func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMessenger{logger: logger}
}

// Send logs the message and always succeeds.
func (m *LogMessenger) Send(_ context.Context, text string) error {
	m.logger.Info("outbound message", "text", text)
	return nil
}
