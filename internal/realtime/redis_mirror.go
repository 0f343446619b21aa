package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/pkg/metrics"
)

const (
	// DefaultMirrorChannel is the Redis channel appended records are published to.
	DefaultMirrorChannel = "relay:logs"
	publishTimeout       = 5 * time.Second
	mirrorQueueSize      = 1024
)

// mirrorPayload is the message published to Redis for each appended record.
type mirrorPayload struct {
	Instance string           `json:"instance"`
	Record   models.LogRecord `json:"record"`
	At       int64            `json:"at"`
}

// RedisPublisher is the subset of *redis.Client the mirror publishes with.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror copies appended log records onto a Redis channel so tools outside
// this process can tail the event log. Publish only queues; Run does the network I/O.
type RedisMirror struct {
	client   RedisPublisher
	channel  string
	instance string
	queue    chan models.LogRecord
	logger   *zap.Logger
}

// NewRedisMirror creates a mirror publishing to channel (empty uses DefaultMirrorChannel).
func NewRedisMirror(client RedisPublisher, channel, instance string, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = DefaultMirrorChannel
	}
	return &RedisMirror{
		client:   client,
		channel:  channel,
		instance: instance,
		queue:    make(chan models.LogRecord, mirrorQueueSize),
		logger:   logger,
	}
}

// Publish queues rec for mirroring. A full queue drops the record.
func (m *RedisMirror) Publish(rec models.LogRecord) {
	select {
	case m.queue <- rec:
	default:
		metrics.MirrorDropped.Inc()
	}
}

// Run publishes queued records in order until ctx is done.
func (m *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("redis mirror stopping")
			return
		case rec := <-m.queue:
			if err := m.publish(ctx, rec); err != nil {
				metrics.MirrorDropped.Inc()
				m.logger.Warn("redis mirror publish failed", zap.Error(err), zap.Uint64("seq", rec.Seq))
			}
		}
	}
}

func (m *RedisMirror) publish(ctx context.Context, rec models.LogRecord) error {
	body, err := json.Marshal(mirrorPayload{Instance: m.instance, Record: rec, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return m.client.Publish(ctx, m.channel, body).Err()
}

// SubscribeMirror subscribes to a mirror channel and calls handler for each record.
// Returns a cancel function to stop the subscription.
func SubscribeMirror(client *redis.Client, channel string, handler func(instance string, rec models.LogRecord)) (cancel func(), err error) {
	if channel == "" {
		channel = DefaultMirrorChannel
	}
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				instance, rec, err := DecodeMirrorPayload([]byte(msg.Payload))
				if err != nil {
					continue
				}
				handler(instance, rec)
			}
		}
	}()
	return cancelCtx, nil
}

// DecodeMirrorPayload parses one mirrored message.
func DecodeMirrorPayload(b []byte) (string, models.LogRecord, error) {
	var p mirrorPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return "", models.LogRecord{}, err
	}
	return p.Instance, p.Record, nil
}
