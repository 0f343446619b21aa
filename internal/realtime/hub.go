package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
)

const (
	// PingInterval and PongWait are used for websocket heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
	// HeartbeatInterval is the SSE keep-alive comment interval.
	HeartbeatInterval = 15 * time.Second
	// DefaultViewerBuffer is the per-viewer queue depth used when none is configured.
	DefaultViewerBuffer = 256
)

// DropReason identifies why the hub removed a viewer.
type DropReason string

const (
	DropUnsubscribed DropReason = "unsubscribed"
	DropSlow         DropReason = "buffer_full"
	DropShutdown     DropReason = "shutdown"
)

// ViewerCountHandler is called after the viewer set changes.
type ViewerCountHandler func(count int)

// DropHandler is called when a viewer is removed for a reason other than explicit unsubscribe.
type DropHandler func(v *Viewer, reason DropReason)

// Viewer is a live log viewer registered with the Hub.
// The transport handler owns the connection; the hub only queues records and
// closes Done when it lets go of the viewer.
type Viewer struct {
	ID          string
	ConnectedAt time.Time
	records     chan models.LogRecord
	done        chan struct{}
	closeOnce   sync.Once
}

// Records delivers records published after the viewer subscribed, in append order.
func (v *Viewer) Records() <-chan models.LogRecord { return v.records }

// Done is closed once the hub has unregistered the viewer.
func (v *Viewer) Done() <-chan struct{} { return v.done }

func (v *Viewer) close() bool {
	closed := false
	v.closeOnce.Do(func() {
		close(v.done)
		closed = true
	})
	return closed
}

// deliver queues rec without blocking. False means the viewer is gone or cannot keep up.
func (v *Viewer) deliver(rec models.LogRecord) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.records <- rec:
		return true
	default:
		return false
	}
}

// Hub maintains the set of live viewers and fans log records out to them.
type Hub struct {
	viewers    map[string]*Viewer
	mu         sync.RWMutex
	bufferSize int
	logger     *zap.Logger
	onCount    ViewerCountHandler
	onDrop     DropHandler
}

// NewHub creates a hub. bufferSize <= 0 uses DefaultViewerBuffer.
func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultViewerBuffer
	}
	return &Hub{
		viewers:    make(map[string]*Viewer),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// SetViewerCountHandler sets the callback for viewer count changes (e.g. metrics gauge).
func (h *Hub) SetViewerCountHandler(fn ViewerCountHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCount = fn
}

// SetDropHandler sets the callback for viewers dropped by the hub.
func (h *Hub) SetDropHandler(fn DropHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Subscribe registers a new viewer.
func (h *Hub) Subscribe() *Viewer {
	v := &Viewer{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		records:     make(chan models.LogRecord, h.bufferSize),
		done:        make(chan struct{}),
	}
	h.mu.Lock()
	h.viewers[v.ID] = v
	count := len(h.viewers)
	onCount := h.onCount
	h.mu.Unlock()
	if onCount != nil {
		onCount(count)
	}
	h.logger.Debug("viewer subscribed", zap.String("viewer_id", v.ID), zap.Int("viewers", count))
	return v
}

// Unsubscribe removes a viewer. Safe to call more than once.
func (h *Hub) Unsubscribe(v *Viewer) {
	h.remove(v, DropUnsubscribed)
}

func (h *Hub) remove(v *Viewer, reason DropReason) {
	if v == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.viewers[v.ID]
	if ok {
		delete(h.viewers, v.ID)
	}
	count := len(h.viewers)
	onCount := h.onCount
	onDrop := h.onDrop
	h.mu.Unlock()

	v.close()
	if !ok {
		return
	}
	if onCount != nil {
		onCount(count)
	}
	if onDrop != nil && reason != DropUnsubscribed {
		onDrop(v, reason)
	}
	h.logger.Debug("viewer removed", zap.String("viewer_id", v.ID), zap.String("reason", string(reason)), zap.Int("viewers", count))
}

// Publish queues rec for every registered viewer. It never blocks: a viewer that
// is closed or whose queue is full is removed from the live set, others are unaffected.
func (h *Hub) Publish(rec models.LogRecord) {
	h.mu.RLock()
	snapshot := make([]*Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		snapshot = append(snapshot, v)
	}
	h.mu.RUnlock()

	for _, v := range snapshot {
		if !v.deliver(rec) {
			h.remove(v, DropSlow)
		}
	}
}

// Count returns the number of registered viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Close unregisters every viewer; transports observe Done and tear down their connections.
func (h *Hub) Close() {
	h.mu.RLock()
	snapshot := make([]*Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		snapshot = append(snapshot, v)
	}
	h.mu.RUnlock()
	for _, v := range snapshot {
		h.remove(v, DropShutdown)
	}
}
