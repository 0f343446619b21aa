package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // bearer token in the query is the gate
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string           `json:"event"`
	Data  models.LogRecord `json:"data"`
}

// TokenValidator reports whether a session token is live.
type TokenValidator interface {
	Validate(token string) bool
}

// WebSocket handles GET /ws/logs?token=... Browsers cannot set headers on a
// websocket handshake, so the session token travels in the query.
func (s *StreamHandler) WebSocket(sessions TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" || !sessions.Validate(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		viewer, history := s.subscribe()
		closed := make(chan struct{})
		go func() {
			readPump(conn)
			close(closed)
		}()
		s.writePump(conn, viewer, history, closed)
	}
}

// readPump discards client frames and returns when the connection closes.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *StreamHandler) writePump(conn *websocket.Conn, viewer *Viewer, history []models.LogRecord, closed <-chan struct{}) {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		s.hub.Unsubscribe(viewer)
		_ = conn.Close()
	}()

	for _, rec := range history {
		if err := writeRecord(conn, rec); err != nil {
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case <-viewer.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case rec := <-viewer.Records():
			if err := writeRecord(conn, rec); err != nil {
				s.logger.Debug("websocket write failed", zap.String("viewer_id", viewer.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeRecord(conn *websocket.Conn, rec models.LogRecord) error {
	data, err := json.Marshal(WSMessage{Event: EventLog, Data: rec})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
