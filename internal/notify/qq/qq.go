// Package qq implements notify.Notifier over the QQ Guild bot API via
// tencent-connect/botgo.
package qq

import (
	"context"
	"fmt"
	"time"

	"github.com/tencent-connect/botgo"
	"github.com/tencent-connect/botgo/dto"
	"github.com/tencent-connect/botgo/openapi"
	"github.com/tencent-connect/botgo/token"

	"github.com/bosunhq/bosun/internal/notify"
)

// Notifier posts alerts into a single QQ guild channel.
type Notifier struct {
	api       openapi.OpenAPI
	channelID string
}

func New(appID, appSecret, channelID string) *Notifier {
	api := botgo.NewOpenAPI(appID, token.New(appID, appSecret)).WithTimeout(5 * time.Second)
	return &Notifier{api: api, channelID: channelID}
}

func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	content := fmt.Sprintf("[%s] %s\n%s", msg.Severity, msg.Title, msg.Body)
	_, err := n.api.PostMessage(ctx, n.channelID, &dto.MessageToCreate{Content: content})
	if err != nil {
		return fmt.Errorf("qq: post message: %w", err)
	}
	return nil
}

var _ notify.Notifier = (*Notifier)(nil)
