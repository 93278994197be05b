package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordContentLimit is the webhook's maximum message length.
const discordContentLimit = 2000

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newSenderClient()}
}

type discordMessage struct {
	Content         string `json:"content"`
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// Send posts the title in bold above the message. Mentions are never
// resolved and overlong content is cut at the webhook limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	var msg discordMessage
	msg.Content = truncateRunes(fmt.Sprintf("**%s**\n%s", title, message), discordContentLimit)
	msg.AllowedMentions.Parse = []string{}

	if _, err := postJSON(ctx, d.client, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
