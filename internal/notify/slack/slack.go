// Package slack implements notify.Notifier over the Slack Web API via
// slack-go/slack.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/bosunhq/bosun/internal/notify"
)

// Notifier posts alerts to a single Slack channel.
type Notifier struct {
	client  *slack.Client
	channel string
}

func New(botToken, channel string) *Notifier {
	return &Notifier{client: slack.New(botToken), channel: channel}
}

func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	text := fmt.Sprintf(":%s: *%s*\n%s", emojiFor(msg.Severity), msg.Title, msg.Body)
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func emojiFor(s notify.Severity) string {
	switch s {
	case notify.SeverityCritical:
		return "rotating_light"
	case notify.SeverityHigh:
		return "warning"
	case notify.SeverityMedium:
		return "large_yellow_circle"
	default:
		return "information_source"
	}
}

var _ notify.Notifier = (*Notifier)(nil)
