package notify

import (
	"context"
	"net/http"

	"github.com/caasmo/certsd"
)

const (
	slackUsername     = "CertsD"
	slackSuccessIcon  = ":white_check_mark:"
	slackFailureIcon  = ":error:"
	slackSuccessColor = "#00ff00"
	slackFailureColor = "#ff1111"
)

// Slack posts messages to an incoming webhook.
type Slack struct {
	name    string
	webhook string
	client  *http.Client
}

func NewSlack(webhook string, opts ...Option) *Slack {
	o := newOptions(certsd.NotifySlack, opts)
	return &Slack{name: o.name, webhook: webhook, client: o.client}
}

func (s *Slack) Name() string { return s.name }

type slackAttachment struct {
	Fallback string `json:"fallback"`
	Color    string `json:"color"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Ts       int64  `json:"ts"`
}

type slackPayload struct {
	Username    string            `json:"username"`
	IconEmoji   string            `json:"icon_emoji"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *Slack) Notify(ctx context.Context, msg certsd.Message) error {
	icon, color := slackSuccessIcon, slackSuccessColor
	if !msg.Success {
		icon, color = slackFailureIcon, slackFailureColor
	}
	return postJSON(ctx, s.client, s.webhook, slackPayload{
		Username:  slackUsername,
		IconEmoji: icon,
		Attachments: []slackAttachment{{
			Fallback: msg.Title(),
			Color:    color,
			Title:    msg.Title(),
			Text:     msg.Text,
			Ts:       msg.Time.Unix(),
		}},
	})
}
