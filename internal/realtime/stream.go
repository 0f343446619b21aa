package realtime

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
)

// EventLog event name used for every log frame.
const EventLog = "log"

// Replayer captures log history and registers a subscriber as one step.
type Replayer interface {
	ReplayAndSubscribe(subscribe func()) []models.LogRecord
}

// StreamHandler serves the live log stream over SSE and websocket.
type StreamHandler struct {
	hub       *Hub
	log       Replayer
	logger    *zap.Logger
	heartbeat time.Duration
	epoch     string
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(hub *Hub, log Replayer, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		hub:       hub,
		log:       log,
		logger:    logger,
		heartbeat: HeartbeatInterval,
		epoch:     strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

// Epoch identifies this process in SSE event ids ("<epoch>-<seq>"), since
// sequence numbers restart with every process.
func (s *StreamHandler) Epoch() string { return s.epoch }

// SetHeartbeat overrides the keep-alive interval.
func (s *StreamHandler) SetHeartbeat(d time.Duration) {
	if d > 0 {
		s.heartbeat = d
	}
}

// subscribe registers a viewer and returns the history it must be sent first.
func (s *StreamHandler) subscribe() (*Viewer, []models.LogRecord) {
	var viewer *Viewer
	history := s.log.ReplayAndSubscribe(func() { viewer = s.hub.Subscribe() })
	return viewer, history
}

// SSE handles GET /api/logs/stream. Each record is one "log" event with id
// "<epoch>-<seq>"; a Last-Event-ID from this process skips history the client already has.
func (s *StreamHandler) SSE(c *gin.Context) {
	viewer, history := s.subscribe()
	defer s.hub.Unsubscribe(viewer)

	history = s.afterEventID(history, c.GetHeader("Last-Event-ID"))

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, rec := range history {
		if err := s.writeSSE(w, rec); err != nil {
			s.logger.Debug("sse replay write failed", zap.String("viewer_id", viewer.ID), zap.Error(err))
			return
		}
	}
	w.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-viewer.Done():
			return
		case rec := <-viewer.Records():
			if err := s.writeSSE(w, rec); err != nil {
				s.logger.Debug("sse write failed", zap.String("viewer_id", viewer.ID), zap.Error(err))
				return
			}
			w.Flush()
		case t := <-ticker.C:
			if _, err := io.WriteString(w, ": heartbeat "+t.UTC().Format(time.RFC3339)+"\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

func (s *StreamHandler) writeSSE(w io.Writer, rec models.LogRecord) error {
	return sse.Encode(w, sse.Event{
		Id:    s.epoch + "-" + strconv.FormatUint(rec.Seq, 10),
		Event: EventLog,
		Data:  rec,
	})
}

// afterEventID drops records the client acknowledged via Last-Event-ID.
// Ids minted by another process, or newer than anything retained, replay the whole history.
func (s *StreamHandler) afterEventID(history []models.LogRecord, lastEventID string) []models.LogRecord {
	if lastEventID == "" || len(history) == 0 {
		return history
	}
	epoch, seq, ok := strings.Cut(lastEventID, "-")
	if !ok || epoch != s.epoch {
		return history
	}
	last, err := strconv.ParseUint(seq, 10, 64)
	if err != nil || last > history[len(history)-1].Seq {
		return history
	}
	for i, rec := range history {
		if rec.Seq > last {
			return history[i:]
		}
	}
	return nil
}
