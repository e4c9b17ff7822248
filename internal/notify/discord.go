package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

const (
	discordContentLimit = 2000
	discordTitleLimit   = 256
)

// webhookExecutor is the slice of *discordgo.Session the sink uses.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts notifications to a channel webhook. Discord has no
// notion of our user ids, so the user is named in the embed footer.
type DiscordNotifier struct {
	session   webhookExecutor
	webhookID string
	token     string
	username  string
}

func NewDiscordNotifier(webhookURL, username string) (*DiscordNotifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if username == "" {
		username = "corpsim"
	}
	return &DiscordNotifier{session: session, webhookID: id, token: token, username: username}, nil
}

// ParseWebhookURL splits https://discord.com/api/webhooks/{id}/{token}.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url must look like .../api/webhooks/{id}/{token}")
}

func (n *DiscordNotifier) Notify(ctx context.Context, userID, subject, body string) error {
	params := &discordgo.WebhookParams{
		Username: n.username,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       truncate(subject, discordTitleLimit),
			Description: truncate(body, discordContentLimit),
			Footer:      &discordgo.MessageEmbedFooter{Text: "to " + userID},
		}},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if _, err := n.session.WebhookExecute(n.webhookID, n.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

// truncate cuts s to at most limit characters on a rune boundary, ending
// with "..." when it cut anything.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
