package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/caasmo/certsd"
)

// Webhook posts the message as JSON to an arbitrary endpoint.
type Webhook struct {
	name   string
	url    string
	client *http.Client
}

func NewWebhook(url string, opts ...Option) *Webhook {
	o := newOptions(certsd.NotifyWebhook, opts)
	return &Webhook{name: o.name, url: url, client: o.client}
}

func (w *Webhook) Name() string { return w.name }

// WebhookEvent is the body sent to generic webhooks.
type WebhookEvent struct {
	Domain    string    `json:"domain"`
	Variant   string    `json:"variant"`
	Success   bool      `json:"success"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (w *Webhook) Notify(ctx context.Context, msg certsd.Message) error {
	return postJSON(ctx, w.client, w.url, WebhookEvent{
		Domain:    msg.Domain,
		Variant:   msg.Variant.String(),
		Success:   msg.Success,
		Title:     msg.Title(),
		Message:   msg.Text,
		Timestamp: msg.Time.UTC(),
	})
}
