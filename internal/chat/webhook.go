package chat

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/pkg/metrics"
	"github.com/relaybot/dashboard/pkg/response"
)

const (
	// TelegramSecretHeader carries the secret_token registered with setWebhook.
	TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	// NotifySecretHeader carries the shared secret for the notify webhook.
	NotifySecretHeader = "X-Webhook-Secret"
)

// NotifyRequest is the body for POST /webhooks/notify. TargetChatID is a
// numeric chat id (as a number or string) or a channel "@username".
type NotifyRequest struct {
	Action       string                 `json:"action"`
	Data         map[string]interface{} `json:"data"`
	TargetChatID json.RawMessage        `json:"target_chat_id"`
}

var errBadTarget = errors.New("invalid target_chat_id")

// parseTarget resolves target_chat_id to either a chat id or a channel name.
func parseTarget(raw json.RawMessage) (int64, string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, "", errBadTarget
		}
		s = n.String()
	}
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id != 0 {
		return id, "", nil
	}
	if len(s) > 1 && strings.HasPrefix(s, "@") && !strings.ContainsAny(s, " \t\n") {
		return 0, s, nil
	}
	return 0, "", errBadTarget
}

// WebhookHandler receives messaging-platform updates and automation notifications.
type WebhookHandler struct {
	relay          *Relay
	events         EventLog
	telegramSecret string
	notifySecret   string
	logger         *zap.Logger
}

// NewWebhookHandler creates a webhook handler. Empty secrets disable the header check.
func NewWebhookHandler(relay *Relay, events EventLog, telegramSecret, notifySecret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{relay: relay, events: events, telegramSecret: telegramSecret, notifySecret: notifySecret, logger: logger}
}

// Telegram handles POST /telegram/webhook. Updates without text or from bots are
// acknowledged and ignored so Telegram does not redeliver them.
func (h *WebhookHandler) Telegram(c *gin.Context) {
	if !secretMatches(h.telegramSecret, c.GetHeader(TelegramSecretHeader)) {
		h.events.Append(models.LevelWarn, "Telegram webhook rejected: bad secret token from "+c.ClientIP())
		response.Unauthorized(c, "Unauthorized")
		return
	}
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		response.BadRequest(c, "invalid update: "+err.Error())
		return
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID == 0 || msg.Text == "" {
		metrics.TelegramMessages.WithLabelValues("in", "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if msg.From != nil && msg.From.IsBot {
		metrics.TelegramMessages.WithLabelValues("in", "ignored_bot").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored_bot"})
		return
	}
	metrics.TelegramMessages.WithLabelValues("in", "ok").Inc()

	in := Inbound{ChatID: msg.Chat.ID, MessageID: msg.MessageID, Text: msg.Text}
	if msg.From != nil {
		in.Username = msg.From.UserName
	}
	reply, err := h.relay.HandleInbound(c.Request.Context(), in)
	c.JSON(http.StatusOK, gin.H{
		"status":        "processed",
		"success":       err == nil,
		"chatId":        msg.Chat.ID,
		"messageLength": len(reply),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// Notify handles POST /webhooks/notify: formats an automation event and sends it
// to target_chat_id, a chat id or a channel "@username".
func (h *WebhookHandler) Notify(c *gin.Context) {
	if !secretMatches(h.notifySecret, c.GetHeader(NotifySecretHeader)) {
		h.events.Append(models.LevelWarn, "Notify webhook rejected: bad secret from "+c.ClientIP())
		response.Unauthorized(c, "Unauthorized")
		return
	}
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Action == "" || len(req.TargetChatID) == 0 || string(req.TargetChatID) == "null" {
		response.BadRequest(c, "Missing required fields")
		return
	}
	chatID, channel, err := parseTarget(req.TargetChatID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.events.Append(models.LevelInfo, "Notify webhook received: "+req.Action)
	text := FormatNotification(req.Action, req.Data)
	var sendErr error
	if channel != "" {
		sendErr = h.relay.NotifyChannel(c.Request.Context(), channel, text)
	} else {
		sendErr = h.relay.Notify(c.Request.Context(), chatID, text)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "processed",
		"success":   sendErr == nil,
		"action":    req.Action,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// FormatNotification renders an automation action as a Markdown chat message.
func FormatNotification(action string, data map[string]interface{}) string {
	field := func(key string) string {
		if v, ok := data[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	switch action {
	case "workflow_completed":
		return fmt.Sprintf("✅ *Workflow Completed*\nWorkflow: %s\nStatus: %s", field("workflow_name"), field("status"))
	case "task_created":
		return fmt.Sprintf("📋 *New Task Created*\nTitle: %s\nPriority: %s", field("title"), field("priority"))
	case "notification":
		if msg := field("message"); msg != "" {
			return msg
		}
		return "Notification from automation"
	default:
		return "🔔 Automation notification: " + action
	}
}

func secretMatches(expected, got string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
