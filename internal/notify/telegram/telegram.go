// Package telegram implements notify.Notifier over Telegram Bot API via
// mymmrac/telego.
package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/bosunhq/bosun/internal/notify"
)

// Notifier sends alerts to a single Telegram chat.
type Notifier struct {
	bot    *telego.Bot
	chatID int64
}

func New(token string, chatID int64) (*Notifier, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID}, nil
}

func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	text := fmt.Sprintf("*%s*\n\n%s", escapeMarkdown(msg.Title), escapeMarkdown(msg.Body))
	_, err := n.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: n.chatID},
		Text:      text,
		ParseMode: telego.ModeMarkdownV2,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func escapeMarkdown(s string) string {
	special := "_*[]()~`>#+-=|{}.!"
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		for j := 0; j < len(special); j++ {
			if c == special[j] {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, c)
	}
	return string(out)
}

var _ notify.Notifier = (*Notifier)(nil)
