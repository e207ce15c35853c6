// Package discord implements notify.Notifier over the Discord API via
// bwmarrin/discordgo.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/bosunhq/bosun/internal/notify"
)

// Notifier sends alerts to a single Discord text channel over a persistent
// bot session.
type Notifier struct {
	session   *discordgo.Session
	channelID string
}

func New(botToken, channelID string) (*Notifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return &Notifier{session: session, channelID: channelID}, nil
}

func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       colorFor(msg.Severity),
		Timestamp:   msg.OccurredAt.Format("2006-01-02T15:04:05-0700"),
	}
	_, err := n.session.ChannelMessageSendEmbed(n.channelID, embed)
	if err != nil {
		return fmt.Errorf("discord: send embed: %w", err)
	}
	return nil
}

func (n *Notifier) Close() error {
	return n.session.Close()
}

func colorFor(s notify.Severity) int {
	switch s {
	case notify.SeverityCritical:
		return 0xE01E5A
	case notify.SeverityHigh:
		return 0xF2994A
	case notify.SeverityMedium:
		return 0xF2C94C
	default:
		return 0x2D9CDB
	}
}

var _ notify.Notifier = (*Notifier)(nil)
