package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Discord rejects message content longer than this many characters.
const discordMaxContent = 2000

// DiscordSender posts alerts to a channel webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, username: "parimutueld", client: defaultHTTPClient()}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := truncateRunes(fmt.Sprintf("**%s**\n%s", title, message), discordMaxContent)
	if err := postJSON(ctx, d.client, d.webhookURL, map[string]string{
		"username": d.username,
		"content":  content,
	}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

// truncateRunes cuts s to at most n runes, marking the cut with an ellipsis.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
