// Package stats derives the dashboard's point-in-time counters.
package stats

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/relaybot/dashboard/internal/models"
)

// MessageReceivedPrefix starts every log message written for an inbound chat message.
const MessageReceivedPrefix = "Message received"

var messageReceived = regexp.MustCompile(`^` + MessageReceivedPrefix + `\b`)

// RecordSource provides the retained event log records.
type RecordSource interface {
	All() []models.LogRecord
}

// Aggregator computes stats from the event log, the process start time and the
// set of chat ids seen so far. The chat set only grows.
type Aggregator struct {
	records   RecordSource
	startedAt time.Time
	now       func() time.Time

	mu    sync.RWMutex
	chats map[string]struct{}
}

// NewAggregator creates an aggregator; startedAt is the process start time.
func NewAggregator(records RecordSource, startedAt time.Time) *Aggregator {
	return &Aggregator{
		records:   records,
		startedAt: startedAt,
		now:       time.Now,
		chats:     make(map[string]struct{}),
	}
}

// SetClock overrides the clock used for uptime.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// ObserveChat records chatID as active.
func (a *Aggregator) ObserveChat(chatID string) {
	if chatID == "" {
		return
	}
	a.mu.Lock()
	a.chats[chatID] = struct{}{}
	a.mu.Unlock()
}

// ActiveChats returns the number of distinct chats observed.
func (a *Aggregator) ActiveChats() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chats)
}

// MessageCount counts retained records logged for inbound messages.
func (a *Aggregator) MessageCount() int {
	n := 0
	for _, rec := range a.records.All() {
		if IsMessageReceived(rec.Message) {
			n++
		}
	}
	return n
}

// Uptime returns the elapsed time since start.
func (a *Aggregator) Uptime() time.Duration {
	return a.now().Sub(a.startedAt)
}

// Snapshot computes the current stats.
func (a *Aggregator) Snapshot() models.Stats {
	return models.Stats{
		MessageCount: a.MessageCount(),
		Uptime:       FormatUptime(a.Uptime()),
		ActiveChats:  a.ActiveChats(),
		Status:       "online",
	}
}

// IsMessageReceived reports whether a log message records an inbound chat message.
func IsMessageReceived(msg string) bool {
	return messageReceived.MatchString(msg)
}

// FormatUptime renders d as "Xd Yh", "Xh Ym" or "Xm Ys" by its largest unit.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
}
