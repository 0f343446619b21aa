// Package telegram sends relay replies through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/pkg/metrics"
)

// MaxMessageLen is the maximum Telegram message length.
const MaxMessageLen = 4096

// Sender delivers a text message to a chat, optionally threaded to replyTo (0 = none).
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) error
}

// ChannelSender delivers a text message to a public channel or supergroup by
// its "@username".
type ChannelSender interface {
	SendToChannel(ctx context.Context, channel, text string) error
}

// Bot is a Sender and ChannelSender backed by the Bot API.
type Bot struct {
	api     *tgbotapi.BotAPI
	logger  *zap.Logger
	failing atomic.Bool
}

// NewBot connects to the Bot API with token (this performs a getMe call).
func NewBot(token string, logger *zap.Logger) (*Bot, error) {
	return NewBotWithEndpoint(token, tgbotapi.APIEndpoint, logger)
}

// NewBotWithEndpoint is NewBot against a custom API endpoint format
// ("https://host/bot%s/%s"), e.g. a local Bot API server.
func NewBotWithEndpoint(token, endpoint string, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("connecting to Telegram: %w", err)
	}
	logger.Info("telegram bot connected", zap.String("username", api.Self.UserName))
	return &Bot{api: api, logger: logger}, nil
}

// Status is "ok" until a send fails, then "degraded" until the next send succeeds.
func (b *Bot) Status() string {
	if b.failing.Load() {
		return "degraded"
	}
	return "ok"
}

// Send delivers text, split into MaxMessageLen chunks. Markdown is tried first and
// plain text is used when Telegram rejects the entities.
func (b *Bot) Send(ctx context.Context, chatID int64, text string, replyTo int) error {
	return b.deliver(ctx, text, func(chunk string, first bool) tgbotapi.MessageConfig {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if first {
			msg.ReplyToMessageID = replyTo
		}
		return msg
	})
}

// SendToChannel delivers text to channel ("@name") with the same chunking and
// Markdown fallback as Send.
func (b *Bot) SendToChannel(ctx context.Context, channel, text string) error {
	return b.deliver(ctx, text, func(chunk string, _ bool) tgbotapi.MessageConfig {
		return tgbotapi.NewMessageToChannel(channel, chunk)
	})
}

func (b *Bot) deliver(ctx context.Context, text string, build func(chunk string, first bool) tgbotapi.MessageConfig) error {
	for i, chunk := range SplitMessage(text, MaxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := build(chunk, i == 0)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if _, err := b.api.Send(msg); err != nil {
			if !strings.Contains(err.Error(), "can't parse entities") {
				return b.failed(err)
			}
			msg.ParseMode = ""
			if _, err := b.api.Send(msg); err != nil {
				return b.failed(err)
			}
		}
		metrics.TelegramMessages.WithLabelValues("out", "ok").Inc()
	}
	b.failing.Store(false)
	return nil
}

func (b *Bot) failed(err error) error {
	metrics.TelegramMessages.WithLabelValues("out", "error").Inc()
	b.failing.Store(true)
	return fmt.Errorf("send message: %w", err)
}

// SplitMessage cuts text into pieces of at most max bytes, preferring newline
// boundaries and never splitting a UTF-8 sequence.
func SplitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var parts []string
	for len(text) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl > max/2 {
			cut = nl + 1
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
