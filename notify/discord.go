package notify

import (
	"context"
	"fmt"
	"net/url"
)

// discordSink posts markdown messages to a Discord webhook. Target URLs use
// the discord scheme, e.g. discord://discord.com/api/webhooks/<id>/<token>,
// which maps onto the https webhook endpoint.
type discordSink struct {
	webhook *webhookSink
	mention string
}

func newDiscordSink(u *url.URL, mention string) *discordSink {
	https := *u
	https.Scheme = "https"
	return &discordSink{
		webhook: newWebhookSink(https.String()),
		mention: mention,
	}
}

type discordPayload struct {
	Content string `json:"content"`
}

func (s *discordSink) Send(ctx context.Context, ev Event) error {
	payload := discordPayload{Content: discordBody(ev, s.mention)}
	if err := s.webhook.post(ctx, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}
