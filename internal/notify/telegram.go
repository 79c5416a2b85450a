package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

// TelegramSender posts to a chat through the Bot API sendMessage call.
type TelegramSender struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  newHTTPClient(),
	}
}

// Send renders the title in bold. HTML parse mode is used because exit codes
// such as take_profit break Markdown entity parsing.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
