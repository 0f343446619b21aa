// Package chat relays chat messages between the messaging platform, the AI
// backend and the dashboard, recording every step in the event log.
package chat

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relaybot/dashboard/internal/ai"
	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/internal/stats"
	"github.com/relaybot/dashboard/internal/telegram"
)

// Replies shown to end users instead of raw backend failures.
const (
	ReplyUnavailable = "I'm experiencing technical difficulties. Please try again later."
	ReplyEmpty       = "I couldn't generate a response. Please rephrase your question."
	ReplyRateLimited = "Too many requests. Please wait a moment."
)

// ErrRateLimited is returned when a chat exceeds its message rate.
var ErrRateLimited = errors.New("chat rate limited")

// EventLog is where relay activity becomes visible to operators.
type EventLog interface {
	Append(level models.Level, message string) models.LogRecord
}

// ChatObserver records chat ids seen on inbound traffic.
type ChatObserver interface {
	ObserveChat(chatID string)
}

// Inbound is one text message received from the messaging platform.
type Inbound struct {
	ChatID    int64
	MessageID int
	Username  string
	Text      string
}

// Relay answers inbound messages with AI replies.
type Relay struct {
	ai       ai.Completer
	sender   telegram.Sender
	events   EventLog
	chats    ChatObserver
	logger   *zap.Logger
	perSec   rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewRelay creates a relay. completer and sender may be nil when unconfigured;
// perSec <= 0 disables per-chat rate limiting.
func NewRelay(completer ai.Completer, sender telegram.Sender, events EventLog, chats ChatObserver, perSec float64, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		ai:       completer,
		sender:   sender,
		events:   events,
		chats:    chats,
		logger:   logger,
		perSec:   rate.Limit(perSec),
		burst:    5,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Ask forwards prompt to the AI backend and returns a user-safe reply.
// err is non-nil when the reply is a fallback; the failure is already logged.
func (r *Relay) Ask(ctx context.Context, source, prompt string) (string, error) {
	if r.ai == nil {
		r.events.Append(models.LevelError, "AI backend not configured; replying to "+source+" with fallback")
		return ReplyUnavailable, ai.ErrBackend
	}
	reply, err := r.ai.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, ai.ErrEmptyReply) {
			r.events.Append(models.LevelWarn, "AI backend returned no content for "+source)
			return ReplyEmpty, err
		}
		r.events.Append(models.LevelError, "AI backend failed for "+source+": "+err.Error())
		r.logger.Error("ai completion failed", zap.String("source", source), zap.Error(err))
		return ReplyUnavailable, err
	}
	return reply, nil
}

// HandleInbound records msg, asks the AI backend and sends the reply to the chat.
// The returned reply is what was (or would have been) sent.
func (r *Relay) HandleInbound(ctx context.Context, msg Inbound) (string, error) {
	chatID := strconv.FormatInt(msg.ChatID, 10)
	r.chats.ObserveChat(chatID)
	from := "chat " + chatID
	if msg.Username != "" {
		from += " (@" + msg.Username + ")"
	}
	r.events.Append(models.LevelInfo, stats.MessageReceivedPrefix+" from "+from+": "+Truncate(msg.Text, 200))

	if !r.allow(msg.ChatID) {
		r.events.Append(models.LevelWarn, "Rate limit hit for "+from)
		if err := r.send(ctx, msg.ChatID, ReplyRateLimited, msg.MessageID); err != nil {
			return ReplyRateLimited, err
		}
		return ReplyRateLimited, ErrRateLimited
	}

	reply, askErr := r.Ask(ctx, from, msg.Text)
	if err := r.send(ctx, msg.ChatID, reply, msg.MessageID); err != nil {
		return reply, err
	}
	r.events.Append(models.LevelInfo, "Reply sent to "+from+": "+Truncate(reply, 200))
	return reply, askErr
}

// Notify sends an operator notification to a chat.
func (r *Relay) Notify(ctx context.Context, chatID int64, text string) error {
	if err := r.send(ctx, chatID, text, 0); err != nil {
		return err
	}
	r.events.Append(models.LevelInfo, "Notification sent to chat "+strconv.FormatInt(chatID, 10)+": "+Truncate(text, 200))
	return nil
}

// NotifyChannel sends an operator notification to a public channel ("@name").
// The configured sender must also implement telegram.ChannelSender.
func (r *Relay) NotifyChannel(ctx context.Context, channel, text string) error {
	cs, ok := r.sender.(telegram.ChannelSender)
	if !ok {
		err := errors.New("messaging platform not configured for channels")
		r.events.Append(models.LevelError, "Cannot send to "+channel+": "+err.Error())
		return err
	}
	if err := cs.SendToChannel(ctx, channel, text); err != nil {
		r.events.Append(models.LevelError, "Failed to send to "+channel+": "+err.Error())
		r.logger.Error("telegram send failed", zap.String("channel", channel), zap.Error(err))
		return err
	}
	r.events.Append(models.LevelInfo, "Notification sent to "+channel+": "+Truncate(text, 200))
	return nil
}

func (r *Relay) send(ctx context.Context, chatID int64, text string, replyTo int) error {
	if r.sender == nil {
		err := errors.New("messaging platform not configured")
		r.events.Append(models.LevelError, "Cannot send to chat "+strconv.FormatInt(chatID, 10)+": "+err.Error())
		return err
	}
	if err := r.sender.Send(ctx, chatID, text, replyTo); err != nil {
		r.events.Append(models.LevelError, "Failed to send to chat "+strconv.FormatInt(chatID, 10)+": "+err.Error())
		r.logger.Error("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}

func (r *Relay) allow(chatID int64) bool {
	if r.perSec <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(r.perSec, r.burst)
		r.limiters[chatID] = l
	}
	return l.Allow()
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
