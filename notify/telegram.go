package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/caasmo/certsd"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	name    string
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegram(token, chatID string, opts ...Option) *Telegram {
	o := newOptions(certsd.NotifyTelegram, opts)
	return &Telegram{
		name:    o.name,
		token:   token,
		chatID:  chatID,
		baseURL: strings.TrimRight(o.telegramBaseURL, "/"),
		client:  o.client,
	}
}

func (t *Telegram) Name() string { return t.name }

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *Telegram) Notify(ctx context.Context, msg certsd.Message) error {
	icon := "✅"
	if !msg.Success {
		icon = "❌"
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	err := postJSON(ctx, t.client, url, telegramMessage{
		ChatID:                t.chatID,
		Text:                  fmt.Sprintf("%s %s\n%s", icon, msg.Title(), msg.Text),
		DisableWebPagePreview: true,
	})
	if err != nil {
		text := err.Error()
		if t.token != "" {
			// the URL carries the bot token
			text = strings.ReplaceAll(text, t.token, "<token>")
		}
		return fmt.Errorf("telegram chat %s: %s", t.chatID, text)
	}
	return nil
}
