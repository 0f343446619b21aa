// Package worker archives mirrored event log records to object storage.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/eventlog"
	"github.com/relaybot/dashboard/internal/models"
)

const (
	// DefaultBatchSize is the record count that triggers an early flush.
	DefaultBatchSize = 500
	// DefaultFlushInterval is how often pending records are flushed.
	DefaultFlushInterval = 60 * time.Second
	// backlogFactor bounds pending records per instance at backlogFactor*batch size.
	backlogFactor = 4
	uploadTimeout = 30 * time.Second
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// MirrorArchiver batches records received from the Redis mirror and uploads them as NDJSON.
type MirrorArchiver struct {
	archiver  eventlog.Archiver
	batchSize int
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string][]models.LogRecord
	kick    chan struct{}
}

// NewMirrorArchiver creates a batch archiver. batchSize and interval <= 0 use the defaults.
func NewMirrorArchiver(archiver eventlog.Archiver, batchSize int, interval time.Duration, logger *zap.Logger) *MirrorArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &MirrorArchiver{
		archiver:  archiver,
		batchSize: batchSize,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
		pending:   make(map[string][]models.LogRecord),
		kick:      make(chan struct{}, 1),
	}
}

// Add queues rec from instance. Reaching the batch size wakes Run for an early flush.
func (a *MirrorArchiver) Add(instance string, rec models.LogRecord) {
	a.mu.Lock()
	batch := append(a.pending[instance], rec)
	if limit := a.batchSize * backlogFactor; len(batch) > limit {
		dropped := len(batch) - limit
		batch = batch[dropped:]
		a.logger.Warn("archive backlog full, dropping oldest records", zap.String("instance", instance), zap.Int("dropped", dropped))
	}
	a.pending[instance] = batch
	full := len(batch) >= a.batchSize
	a.mu.Unlock()

	if full {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of records waiting for upload.
func (a *MirrorArchiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, batch := range a.pending {
		n += len(batch)
	}
	return n
}

// Flush uploads every pending batch. Batches that fail stay pending (records added
// meanwhile are kept after them) and the first error is returned.
func (a *MirrorArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batches := a.pending
	a.pending = make(map[string][]models.LogRecord)
	a.mu.Unlock()

	instances := make([]string, 0, len(batches))
	for instance := range batches {
		instances = append(instances, instance)
	}
	sort.Strings(instances)

	var firstErr error
	for _, instance := range instances {
		batch := batches[instance]
		if len(batch) == 0 {
			continue
		}
		if err := a.upload(ctx, instance, batch); err != nil {
			a.logger.Error("archive upload failed", zap.String("instance", instance), zap.Int("records", len(batch)), zap.Error(err))
			a.requeue(instance, batch)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *MirrorArchiver) requeue(instance string, batch []models.LogRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	merged := append(batch, a.pending[instance]...)
	if limit := a.batchSize * backlogFactor; len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	a.pending[instance] = merged
}

func (a *MirrorArchiver) upload(ctx context.Context, instance string, batch []models.LogRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", rec.Seq, err)
		}
	}
	key := BatchKey(a.now(), instance)
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	location, err := a.archiver.UploadArchive(ctx, key, "application/x-ndjson", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Info("archive batch uploaded", zap.String("instance", instance), zap.Int("records", len(batch)), zap.String("location", location))
	return nil
}

// Run flushes on every interval tick and on early-flush signals until ctx is
// done, then flushes once more with a fresh context.
func (a *MirrorArchiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("mirror archiver stopping", zap.Int("pending", a.Pending()))
			final, cancel := context.WithTimeout(context.Background(), uploadTimeout)
			_ = a.Flush(final)
			cancel()
			return
		case <-ticker.C:
		case <-a.kick:
		}
		_ = a.Flush(ctx)
	}
}

// BatchKey returns the object key for a batch from instance flushed at t.
func BatchKey(t time.Time, instance string) string {
	base := strings.TrimSuffix(eventlog.ArchiveKey(t), ".ndjson")
	instance = unsafeKeyChars.ReplaceAllString(instance, "_")
	if instance == "" {
		return base + ".ndjson"
	}
	return base + "-" + instance + ".ndjson"
}
