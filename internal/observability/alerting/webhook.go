package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	xerrors "NegoChain/internal/errors"
)

const webhookTimeout = 10 * time.Second

// DingTalkWebhookSender 通过钉钉群机器人 webhook 发送文本消息。
type DingTalkWebhookSender struct {
	URL        string
	httpClient *http.Client
}

// NewDingTalkWebhookSender 构造钉钉 webhook 发送器。
func NewDingTalkWebhookSender(url string) *DingTalkWebhookSender {
	return &DingTalkWebhookSender{
		URL:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

// Send 发送文本消息。
func (s *DingTalkWebhookSender) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postWebhook(ctx, s.httpClient, s.URL, payload)
}

// SlackWebhookSender 通过 Slack incoming webhook 发送消息。
type SlackWebhookSender struct {
	URL        string
	httpClient *http.Client
}

// NewSlackWebhookSender 构造 Slack webhook 发送器。
func NewSlackWebhookSender(url string) *SlackWebhookSender {
	return &SlackWebhookSender{
		URL:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

// Send 发送消息。incoming webhook 自带默认频道，channel 非空时覆盖。
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]any{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	return postWebhook(ctx, s.httpClient, s.URL, payload)
}

func postWebhook(ctx context.Context, client *http.Client, url string, payload any) error {
	if url == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "webhook 地址不能为空")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 webhook 消息失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 webhook 请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "发送 webhook 请求失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("webhook 返回 %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	}
	return nil
}
