// Package dingtalk implements notify.Notifier over a DingTalk custom-robot
// webhook, reusing the message payload shapes from
// open-dingtalk/dingtalk-stream-sdk-go's chatbot package rather than
// hand-defining the markdown message struct.
package dingtalk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"

	"github.com/bosunhq/bosun/internal/notify"
)

// Notifier posts alerts to a DingTalk group through a signed custom-robot
// webhook (clientID/secret pair issued when the robot was created).
type Notifier struct {
	clientID   string
	secret     string
	httpClient *http.Client
}

func New(clientID, secret string) *Notifier {
	return &Notifier{clientID: clientID, secret: secret, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type webhookPayload struct {
	MsgType  string                   `json:"msgtype"`
	Markdown chatbot.MarkdownMessage `json:"markdown"`
}

func (n *Notifier) Send(ctx context.Context, msg notify.Message) error {
	payload := webhookPayload{
		MsgType: "markdown",
		Markdown: chatbot.MarkdownMessage{
			Title: msg.Title,
			Text:  fmt.Sprintf("### %s\n\n**severity:** %s\n\n%s", msg.Title, msg.Severity, msg.Body),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dingtalk: marshal payload: %w", err)
	}

	ts, sign := n.sign()
	url := fmt.Sprintf("https://oapi.dingtalk.com/robot/send?access_token=%s&timestamp=%s&sign=%s", n.clientID, ts, sign)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dingtalk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk: send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dingtalk: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// sign produces the timestamp + HMAC-SHA256 signature DingTalk's custom
// robot webhook requires when a secret is configured.
func (n *Notifier) sign() (timestamp, signature string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	stringToSign := ts + "\n" + n.secret
	mac := hmac.New(sha256.New, []byte(n.secret))
	mac.Write([]byte(stringToSign))
	return ts, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

var _ notify.Notifier = (*Notifier)(nil)
