package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// WebhookClient 群机器人消息推送
type WebhookClient struct {
	client     *http.Client
	webhookURL string
}

func NewWebhookClient(client *http.Client, webhookURL string) *WebhookClient {
	return &WebhookClient{client: client, webhookURL: webhookURL}
}

// SendText 通过群机器人Webhook推送一条文本消息
func (w *WebhookClient) SendText(ctx context.Context, content string) error {
	if w.webhookURL == "" {
		return fmt.Errorf("webhook url not configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook push: HTTP %d", resp.StatusCode)
	}

	logger.Infof("Webhook消息发送成功, 长度 %d", len(content))
	return nil
}
