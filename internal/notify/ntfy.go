package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NtfySender publishes to an ntfy topic (plain POST, metadata in headers).
type NtfySender struct {
	url    string // server base URL or full topic URL
	topic  string
	token  string
	client *http.Client
}

func NewNtfySender(url, topic, token string) *NtfySender {
	return &NtfySender{
		url:    strings.TrimRight(url, "/"),
		topic:  strings.TrimSpace(topic),
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *NtfySender) Name() string { return "ntfy" }

func ntfyPriority(sev Severity) string {
	switch sev {
	case SeverityWarn:
		return "high"
	case SeverityError:
		return "urgent"
	default:
		return "default"
	}
}

func (s *NtfySender) Send(ctx context.Context, n Notification) error {
	url := s.url
	if s.topic != "" {
		url += "/" + s.topic
	}

	body := n.Body
	if len(n.Fields) > 0 {
		var b strings.Builder
		b.WriteString(body)
		for _, f := range n.Fields {
			fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
		}
		body = b.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Title", n.Title)
	req.Header.Set("Priority", ntfyPriority(n.Severity))
	if n.Severity == SeverityError {
		req.Header.Set("Tags", "rotating_light")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy: unexpected status %s", resp.Status)
	}
	return nil
}
