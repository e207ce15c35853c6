// Package feishu implements notify.Notifier over Feishu/Lark's IM API via
// larksuite/oapi-sdk-go/v3.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/bosunhq/bosun/internal/notify"
)

// Notifier sends alerts to a single Feishu chat.
type Notifier struct {
	client *lark.Client
	chatID string
}

func New(appID, appSecret, chatID string) *Notifier {
	return &Notifier{client: lark.NewClient(appID, appSecret), chatID: chatID}
}

type textContent struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	content, err := json.Marshal(textContent{Text: fmt.Sprintf("[%s] %s\n%s", msg.Severity, msg.Title, msg.Body)})
	if err != nil {
		return fmt.Errorf("feishu: marshal content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.chatID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("feishu: create message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("feishu: create message failed: %s", resp.Msg)
	}
	return nil
}

var _ notify.Notifier = (*Notifier)(nil)
