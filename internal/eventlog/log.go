// Package eventlog holds the dashboard's bounded, in-memory operational event log.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
)

// DefaultCapacity is the number of records retained when none is configured.
const DefaultCapacity = 1000

// Sink receives every appended record, in append order, while the append lock is held.
// Implementations must not block.
type Sink interface {
	Publish(rec models.LogRecord)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec models.LogRecord)

// Publish calls f(rec).
func (f SinkFunc) Publish(rec models.LogRecord) { f(rec) }

// Log is a fixed-capacity ring buffer of LogRecords with FIFO eviction.
type Log struct {
	mu     sync.Mutex
	buf    []models.LogRecord
	head   int // index of the oldest record
	size   int
	seq    uint64
	sinks  []Sink
	now    func() time.Time
	logger *zap.Logger
}

// New creates a log with the given capacity (<= 0 uses DefaultCapacity).
func New(capacity int, logger *zap.Logger, sinks ...Sink) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		buf:    make([]models.LogRecord, capacity),
		sinks:  sinks,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the timestamp source.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// AddSink registers another sink for subsequent appends.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Capacity returns the maximum number of retained records.
func (l *Log) Capacity() int { return len(l.buf) }

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Append stores a new record at the tail, evicting the oldest when full, then
// notifies the sinks. The whole step runs under one lock so all sinks observe
// the same total order and never see a record the buffer does not hold.
func (l *Log) Append(level models.Level, message string) models.LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec := models.NewLogRecord(l.seq, l.now(), level, message)
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.head+l.size)%capacity] = rec
		l.size++
	} else {
		l.buf[l.head] = rec
		l.head = (l.head + 1) % capacity
	}
	for _, s := range l.sinks {
		s.Publish(rec)
	}
	return rec
}

// Info appends an info record.
func (l *Log) Info(format string, args ...interface{}) models.LogRecord {
	return l.Append(models.LevelInfo, fmt.Sprintf(format, args...))
}

// Error appends an error record and mirrors it to the process logger.
func (l *Log) Error(format string, args ...interface{}) models.LogRecord {
	rec := l.Append(models.LevelError, fmt.Sprintf(format, args...))
	l.logger.Error("event log error", zap.String("message", rec.Message), zap.Uint64("seq", rec.Seq))
	return rec
}

// Snapshot returns retained records in insertion order, keeping only level
// (when non-empty) and at most the most recent limit entries (limit <= 0 means all).
func (l *Log) Snapshot(level models.Level, limit int) []models.LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(level, limit)
}

// All returns every retained record in insertion order.
func (l *Log) All() []models.LogRecord {
	return l.Snapshot("", 0)
}

// ReplayAndSubscribe runs subscribe and captures the history as one step with
// respect to Append: every record is either in the returned history or
// delivered to whatever subscribe registered, never both and never neither.
func (l *Log) ReplayAndSubscribe(subscribe func()) []models.LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.snapshotLocked("", 0)
	if subscribe != nil {
		subscribe()
	}
	return history
}

func (l *Log) snapshotLocked(level models.Level, limit int) []models.LogRecord {
	capacity := len(l.buf)
	out := make([]models.LogRecord, 0, l.size)
	for i := 0; i < l.size; i++ {
		rec := l.buf[(l.head+i)%capacity]
		if level != "" && rec.Level != level {
			continue
		}
		out = append(out, rec)
	}
	if limit > capacity {
		limit = capacity
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
