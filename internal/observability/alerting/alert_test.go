package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "NegoChain/internal/errors"
)

type stubNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *stubNotifier) Channel() Channel { return n.channel }

func (n *stubNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeUpstreamFailure,
		Message:    "会话执行失败",
		Severity:   xerrors.SeverityCritical,
		SessionID:  "sess-1",
		Stage:      "execute",
		OccurredAt: time.Unix(1700000000, 0),
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	email := &stubNotifier{channel: ChannelEmail}
	slack := &stubNotifier{channel: ChannelSlack}
	dispatcher := NewFanout(email, slack, nil)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(email.events) != 1 || len(slack.events) != 1 {
		t.Fatalf("event not delivered to all channels: email=%d slack=%d", len(email.events), len(slack.events))
	}
	if email.events[0].SessionID != "sess-1" {
		t.Fatalf("unexpected event payload: %+v", email.events[0])
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	failing := &stubNotifier{channel: ChannelDingTalk, err: errors.New("robot offline")}
	healthy := &stubNotifier{channel: ChannelSlack}
	dispatcher := NewFanout(failing, healthy)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected error from failing channel")
	}
	if !strings.Contains(err.Error(), "dingtalk") {
		t.Fatalf("error should name the failing channel: %v", err)
	}
	// 单个渠道失败不阻塞其余渠道。
	if len(healthy.events) != 1 {
		t.Fatalf("healthy channel skipped: %d events", len(healthy.events))
	}
}

func TestEmailNotifierSkipsWhenUnconfigured(t *testing.T) {
	notifier := &EmailNotifier{}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unconfigured notifier should be a no-op, got %v", err)
	}
}

func TestDingTalkWebhookSender(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer server.Close()

	sender := NewDingTalkWebhookSender(server.URL)
	if err := sender.Send(context.Background(), "[ERROR] 会话 sess-1 执行失败"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if payload["msgtype"] != "text" {
		t.Fatalf("msgtype = %v, want text", payload["msgtype"])
	}
	text, _ := payload["text"].(map[string]any)
	if content, _ := text["content"].(string); !strings.Contains(content, "sess-1") {
		t.Fatalf("unexpected content: %v", text)
	}
}

func TestSlackWebhookSenderChannelOverride(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload = nil
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer server.Close()

	sender := NewSlackWebhookSender(server.URL)
	if err := sender.Send(context.Background(), "#alerts", "会话失败"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if payload["channel"] != "#alerts" || payload["text"] != "会话失败" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	// 不指定频道时走 webhook 的默认频道，payload 不携带 channel 字段。
	if err := sender.Send(context.Background(), "", "会话失败"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, ok := payload["channel"]; ok {
		t.Fatalf("channel should be omitted when empty: %+v", payload)
	}
}

func TestWebhookSenderRejectsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "robot throttled", http.StatusTooManyRequests)
	}))
	defer server.Close()

	sender := NewDingTalkWebhookSender(server.URL)
	err := sender.Send(context.Background(), "会话失败")
	if err == nil {
		t.Fatal("expected error on non-2xx response")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeUpstreamFailure)
	}
}
