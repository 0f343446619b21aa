package chat

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newWebhookRouter(relay *Relay, events *fakeLog, tgSecret, notifySecret string) *gin.Engine {
	h := NewWebhookHandler(relay, events, tgSecret, notifySecret, nil)
	r := gin.New()
	r.POST("/telegram/webhook", h.Telegram)
	r.POST("/webhooks/notify", h.Notify)
	return r
}

func TestTelegramWebhook(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		body       string
		wantStatus int
		wantField  string
		wantSent   int
	}{
		{"text message", "s3cret", `{"update_id":1,"message":{"message_id":10,"from":{"id":5,"is_bot":false,"first_name":"Ann","username":"ann"},"chat":{"id":77,"type":"private"},"date":0,"text":"hello"}}`, http.StatusOK, "processed", 1},
		{"no text", "s3cret", `{"update_id":2,"message":{"message_id":11,"chat":{"id":77,"type":"private"},"date":0}}`, http.StatusOK, "ignored", 0},
		{"no message", "s3cret", `{"update_id":3}`, http.StatusOK, "ignored", 0},
		{"from bot", "s3cret", `{"update_id":4,"message":{"message_id":12,"from":{"id":6,"is_bot":true,"first_name":"B"},"chat":{"id":77,"type":"private"},"date":0,"text":"loop"}}`, http.StatusOK, "ignored_bot", 0},
		{"bad secret", "wrong", `{"update_id":5}`, http.StatusUnauthorized, "", 0},
		{"malformed", "s3cret", `{`, http.StatusBadRequest, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			events := &fakeLog{}
			chats := chatSet{}
			relay := NewRelay(&fakeCompleter{reply: "hi ann"}, sender, events, chats, 0, nil)
			r := newWebhookRouter(relay, events, "s3cret", "")

			w := postJSON(r, "/telegram/webhook", tt.body, map[string]string{TelegramSecretHeader: tt.secret})
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantField != "" {
				var body map[string]interface{}
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if body["status"] != tt.wantField {
					t.Errorf("status field = %v, want %s", body["status"], tt.wantField)
				}
			}
			if len(sender.sent) != tt.wantSent {
				t.Errorf("sent = %+v", sender.sent)
			}
			if tt.wantSent == 1 {
				if sender.sent[0] != (sent{77, "hi ann", 10}) {
					t.Errorf("sent = %+v", sender.sent[0])
				}
				if chats["77"] != 1 {
					t.Errorf("chat not observed: %v", chats)
				}
			}
		})
	}
}

func TestNotifyWebhook(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		body       string
		wantStatus int
		wantText   string
	}{
		{"workflow", "k", `{"action":"workflow_completed","data":{"workflow_name":"deploy","status":"ok"},"target_chat_id":123}`, http.StatusOK, "Workflow: deploy"},
		{"string chat id", "k", `{"action":"notification","data":{"message":"hey"},"target_chat_id":"123"}`, http.StatusOK, "hey"},
		{"missing action", "k", `{"target_chat_id":123}`, http.StatusBadRequest, ""},
		{"missing target", "k", `{"action":"task_created"}`, http.StatusBadRequest, ""},
		{"null target", "k", `{"action":"task_created","target_chat_id":null}`, http.StatusBadRequest, ""},
		{"bad target", "k", `{"action":"task_created","target_chat_id":"general"}`, http.StatusBadRequest, ""},
		{"object target", "k", `{"action":"task_created","target_chat_id":{"id":1}}`, http.StatusBadRequest, ""},
		{"bad secret", "nope", `{"action":"notification","target_chat_id":1}`, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			events := &fakeLog{}
			relay := NewRelay(nil, sender, events, chatSet{}, 0, nil)
			r := newWebhookRouter(relay, events, "", "k")

			w := postJSON(r, "/webhooks/notify", tt.body, map[string]string{NotifySecretHeader: tt.secret})
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantText == "" {
				if len(sender.sent) != 0 {
					t.Errorf("unexpected send %+v", sender.sent)
				}
				return
			}
			if len(sender.sent) != 1 || sender.sent[0].chatID != 123 || !strings.Contains(sender.sent[0].text, tt.wantText) {
				t.Errorf("sent = %+v", sender.sent)
			}
		})
	}
}

func TestNotifyWebhookChannelTarget(t *testing.T) {
	sender := &fakeSender{}
	events := &fakeLog{}
	relay := NewRelay(nil, sender, events, chatSet{}, 0, nil)
	r := newWebhookRouter(relay, events, "", "")

	w := postJSON(r, "/webhooks/notify", `{"action":"notification","data":{"message":"release shipped"},"target_chat_id":"@mychannel"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["success"] != true {
		t.Errorf("body = %v", body)
	}
	if len(sender.channels) != 1 || sender.channels[0] != "@mychannel release shipped" || len(sender.sent) != 0 {
		t.Errorf("channels = %v sent = %+v", sender.channels, sender.sent)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw     string
		id      int64
		channel string
		wantErr bool
	}{
		{`123`, 123, "", false},
		{`-1001234567890`, -1001234567890, "", false},
		{`"456"`, 456, "", false},
		{`"@news"`, 0, "@news", false},
		{`"@"`, 0, "", true},
		{`"news"`, 0, "", true},
		{`0`, 0, "", true},
		{`1.5`, 0, "", true},
		{`true`, 0, "", true},
	}
	for _, tt := range tests {
		id, channel, err := parseTarget(json.RawMessage(tt.raw))
		if (err != nil) != tt.wantErr || id != tt.id || channel != tt.channel {
			t.Errorf("parseTarget(%s) = %d, %q, %v", tt.raw, id, channel, err)
		}
	}
}

func TestFormatNotification(t *testing.T) {
	tests := []struct {
		action string
		data   map[string]interface{}
		want   string
	}{
		{"task_created", map[string]interface{}{"title": "Fix", "priority": "high"}, "📋 *New Task Created*\nTitle: Fix\nPriority: high"},
		{"notification", nil, "Notification from automation"},
		{"custom", nil, "🔔 Automation notification: custom"},
	}
	for _, tt := range tests {
		if got := FormatNotification(tt.action, tt.data); got != tt.want {
			t.Errorf("FormatNotification(%q) = %q, want %q", tt.action, got, tt.want)
		}
	}
}
