package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/relaybot/dashboard/internal/ai"
	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/internal/telegram"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type sent struct {
	chatID  int64
	text    string
	replyTo int
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	channels []string
	err      error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string, replyTo int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{chatID, text, replyTo})
	return nil
}

func (f *fakeSender) SendToChannel(_ context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.channels = append(f.channels, channel+" "+text)
	return nil
}

// plainSender can only address chats by id.
type plainSender struct{}

func (plainSender) Send(context.Context, int64, string, int) error { return nil }

type fakeLog struct {
	mu      sync.Mutex
	records []models.LogRecord
}

func (f *fakeLog) Append(level models.Level, message string) models.LogRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := models.LogRecord{Seq: uint64(len(f.records) + 1), Level: level, Message: message}
	f.records = append(f.records, rec)
	return rec
}

func (f *fakeLog) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.records))
	for i, rec := range f.records {
		out[i] = string(rec.Level) + " " + rec.Message
	}
	return out
}

type chatSet map[string]int

func (c chatSet) ObserveChat(id string) { c[id]++ }

func TestHandleInbound(t *testing.T) {
	comp := &fakeCompleter{reply: "42 is the answer"}
	sender := &fakeSender{}
	events := &fakeLog{}
	chats := chatSet{}
	r := NewRelay(comp, sender, events, chats, 0, nil)

	reply, err := r.HandleInbound(context.Background(), Inbound{ChatID: 7, MessageID: 3, Username: "ann", Text: "what is it?"})
	if err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if reply != "42 is the answer" {
		t.Errorf("reply = %q", reply)
	}
	if len(sender.sent) != 1 || sender.sent[0] != (sent{7, "42 is the answer", 3}) {
		t.Errorf("sent = %+v", sender.sent)
	}
	if chats["7"] != 1 {
		t.Errorf("chats = %v", chats)
	}
	want := []string{
		"info Message received from chat 7 (@ann): what is it?",
		"info Reply sent to chat 7 (@ann): 42 is the answer",
	}
	got := events.messages()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("records = %q, want %q", got, want)
	}
}

func TestHandleInboundBackendFailure(t *testing.T) {
	sender := &fakeSender{}
	events := &fakeLog{}
	r := NewRelay(&fakeCompleter{err: ai.ErrTimeout}, sender, events, chatSet{}, 0, nil)

	reply, err := r.HandleInbound(context.Background(), Inbound{ChatID: 1, Text: "hi"})
	if !errors.Is(err, ai.ErrTimeout) {
		t.Errorf("err = %v", err)
	}
	if reply != ReplyUnavailable || len(sender.sent) != 1 || sender.sent[0].text != ReplyUnavailable {
		t.Errorf("reply = %q sent = %+v", reply, sender.sent)
	}
	var sawError bool
	for _, rec := range events.records {
		if rec.Level == models.LevelError {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("no error record in %q", events.messages())
	}
}

func TestAskFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		completer ai.Completer
		want      string
	}{
		{"not configured", nil, ReplyUnavailable},
		{"empty reply", &fakeCompleter{err: ai.ErrEmptyReply}, ReplyEmpty},
		{"circuit open", &fakeCompleter{err: ai.ErrCircuitOpen}, ReplyUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelay(tt.completer, nil, &fakeLog{}, chatSet{}, 0, nil)
			got, err := r.Ask(context.Background(), "dashboard", "hi")
			if err == nil || got != tt.want {
				t.Errorf("Ask = %q, %v; want %q with error", got, err, tt.want)
			}
		})
	}
}

func TestHandleInboundRateLimited(t *testing.T) {
	comp := &fakeCompleter{reply: "ok"}
	sender := &fakeSender{}
	r := NewRelay(comp, sender, &fakeLog{}, chatSet{}, 0.001, nil)

	var limited int
	for i := 0; i < 7; i++ {
		_, err := r.HandleInbound(context.Background(), Inbound{ChatID: 5, Text: "spam"})
		if errors.Is(err, ErrRateLimited) {
			limited++
		}
	}
	if limited != 2 {
		t.Errorf("limited = %d, want 2 (burst 5)", limited)
	}
	if len(comp.prompts) != 5 {
		t.Errorf("completer called %d times, want 5", len(comp.prompts))
	}
	if _, err := r.HandleInbound(context.Background(), Inbound{ChatID: 6, Text: "hi"}); err != nil {
		t.Errorf("other chat limited: %v", err)
	}
}

func TestHandleInboundSendFailure(t *testing.T) {
	events := &fakeLog{}
	r := NewRelay(&fakeCompleter{reply: "ok"}, &fakeSender{err: errors.New("blocked")}, events, chatSet{}, 0, nil)
	if _, err := r.HandleInbound(context.Background(), Inbound{ChatID: 9, Text: "hi"}); err == nil {
		t.Fatal("expected send error")
	}
	last := events.records[len(events.records)-1]
	if last.Level != models.LevelError || !strings.Contains(last.Message, "chat 9") {
		t.Errorf("last record = %+v", last)
	}
}

func TestNotify(t *testing.T) {
	sender := &fakeSender{}
	events := &fakeLog{}
	r := NewRelay(nil, sender, events, chatSet{}, 0, nil)
	if err := r.Notify(context.Background(), 11, "deploy done"); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 || sender.sent[0].chatID != 11 {
		t.Errorf("sent = %+v", sender.sent)
	}
	if r := NewRelay(nil, nil, &fakeLog{}, chatSet{}, 0, nil); r.Notify(context.Background(), 1, "x") == nil {
		t.Error("notify without sender succeeded")
	}
}

func TestNotifyChannel(t *testing.T) {
	sender := &fakeSender{}
	events := &fakeLog{}
	r := NewRelay(nil, sender, events, chatSet{}, 0, nil)
	if err := r.NotifyChannel(context.Background(), "@ops", "deploy done"); err != nil {
		t.Fatal(err)
	}
	if len(sender.channels) != 1 || sender.channels[0] != "@ops deploy done" || len(sender.sent) != 0 {
		t.Errorf("channels = %v sent = %+v", sender.channels, sender.sent)
	}
	if msgs := events.messages(); msgs[len(msgs)-1] != "info Notification sent to @ops: deploy done" {
		t.Errorf("events = %v", msgs)
	}

	for _, s := range []telegram.Sender{nil, plainSender{}} {
		events := &fakeLog{}
		r := NewRelay(nil, s, events, chatSet{}, 0, nil)
		if r.NotifyChannel(context.Background(), "@ops", "x") == nil {
			t.Errorf("sender %T: channel notify succeeded", s)
		}
		if len(events.records) != 1 || events.records[0].Level != models.LevelError {
			t.Errorf("sender %T: events = %v", s, events.messages())
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 10); got != "héllo" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("Truncate long = %q", got)
	}
}
