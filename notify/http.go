// Package notify implements the certsd notification channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/caasmo/certsd"
)

const defaultTimeout = 10 * time.Second

// Option configures a channel.
type Option func(*options)

type options struct {
	name            string
	client          *http.Client
	telegramBaseURL string
}

// WithName sets the channel name used in logs and metrics. It defaults to the kind.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithHTTPClient replaces the default client with a 10s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithTelegramBaseURL points the Telegram channel at another Bot API endpoint.
func WithTelegramBaseURL(url string) Option {
	return func(o *options) { o.telegramBaseURL = url }
}

func newOptions(kind string, opts []Option) options {
	o := options{
		name:            kind,
		client:          &http.Client{Timeout: defaultTimeout},
		telegramBaseURL: defaultTelegramBaseURL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FromConfig builds one Notifier per configured channel, named <kind>-<index>.
func FromConfig(notifications []certsd.Notification, opts ...Option) ([]certsd.Notifier, error) {
	var notifiers []certsd.Notifier
	for i, n := range notifications {
		chOpts := append(append([]Option(nil), opts...), WithName(fmt.Sprintf("%s-%d", n.Kind, i)))
		switch n.Kind {
		case certsd.NotifySlack:
			notifiers = append(notifiers, NewSlack(n.Webhook, chOpts...))
		case certsd.NotifyTelegram:
			notifiers = append(notifiers, NewTelegram(n.Token, n.ChatID, chOpts...))
		case certsd.NotifyWebhook:
			notifiers = append(notifiers, NewWebhook(n.URL, chOpts...))
		default:
			return nil, fmt.Errorf("notify: notifications[%d]: unsupported kind %q", i, n.Kind)
		}
	}
	return notifiers, nil
}

// postJSON sends a JSON payload to a URL
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
