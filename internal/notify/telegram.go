package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications with the Bot API's sendMessage.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a TelegramSender for a bot token and chat id. An
// empty apiBase means DefaultTelegramAPI.
func NewTelegramSender(apiBase, token, chatID string) *TelegramSender {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	return &TelegramSender{
		endpoint: strings.TrimRight(apiBase, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   newSenderClient(),
	}
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send renders the message as HTML with the title in bold. Symbols and tx ids
// are escaped so underscores never turn into markup.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := telegramMessage{
		ChatID:                t.chatID,
		Text:                  "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	body, err := postJSON(ctx, t.client, t.endpoint, msg)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	var reply telegramReply
	if err := json.Unmarshal(body, &reply); err == nil && !reply.OK {
		return fmt.Errorf("telegram: rejected: %s", reply.Description)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
