package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Discord-style embed colors per severity.
const (
	colorInfo  = 0x2ecc71
	colorWarn  = 0xf1c40f
	colorError = 0xe74c3c
)

func severityColor(s Severity) int {
	switch s {
	case SeverityWarn:
		return colorWarn
	case SeverityError:
		return colorError
	default:
		return colorInfo
	}
}

// WebhookSender posts Discord-compatible embed payloads to a webhook URL.
type WebhookSender struct {
	url      string
	username string
	client   *http.Client
}

func NewWebhookSender(url, username string) *WebhookSender {
	return &WebhookSender{
		url:      url,
		username: username,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WebhookSender) Name() string { return "webhook" }

type webhookEmbed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

type webhookPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []webhookEmbed `json:"embeds"`
}

func (w *WebhookSender) Send(ctx context.Context, n Notification) error {
	payload := webhookPayload{
		Username: w.username,
		Embeds: []webhookEmbed{{
			Title:       n.Title,
			Description: n.Body,
			Color:       severityColor(n.Severity),
			Fields:      n.Fields,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %s", resp.Status)
	}
	return nil
}
