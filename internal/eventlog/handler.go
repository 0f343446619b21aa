package eventlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/pkg/response"
)

// Archiver uploads an archived log snapshot and returns its location.
type Archiver interface {
	UploadArchive(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Handler serves the log snapshot, export and archive endpoints.
type Handler struct {
	log      *Log
	archiver Archiver
	logger   *zap.Logger
}

// NewHandler creates a log handler. archiver may be nil when no bucket is configured.
func NewHandler(log *Log, archiver Archiver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{log: log, archiver: archiver, logger: logger}
}

// List handles GET /api/logs?level=&limit=.
func (h *Handler) List(c *gin.Context) {
	level, err := models.ParseLevel(c.Query("level"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
	}
	c.JSON(http.StatusOK, h.log.Snapshot(level, limit))
}

// Export handles GET /api/logs/export: the buffer as a plain-text download.
func (h *Handler) Export(c *gin.Context) {
	records := h.log.All()
	var b strings.Builder
	for _, rec := range records {
		b.WriteString(rec.Line())
		b.WriteByte('\n')
	}
	name := fmt.Sprintf("relay-logs-%s.txt", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(b.String()))
}

// Archive handles POST /api/logs/archive: uploads the buffer as NDJSON.
func (h *Handler) Archive(c *gin.Context) {
	if h.archiver == nil {
		response.ServiceUnavailable(c, "log archive is not configured")
		return
	}
	records := h.log.All()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			response.Internal(c, "failed to encode logs")
			return
		}
	}
	key := ArchiveKey(time.Now())
	location, err := h.archiver.UploadArchive(c.Request.Context(), key, "application/x-ndjson", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		h.logger.Error("log archive upload failed", zap.Error(err), zap.String("key", key))
		h.log.Error("Log archive failed: %v", err)
		response.Internal(c, "failed to archive logs")
		return
	}
	h.log.Info("Log archive uploaded: %s (%d records)", key, len(records))
	response.OK(c, gin.H{"key": key, "location": location, "records": len(records)})
}

// ArchiveKey returns the object key for an archive taken at t: logs/YYYY/MM/DD/<unix-nano>.ndjson.
func ArchiveKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("logs/%s/%d.ndjson", t.Format("2006/01/02"), t.UnixNano())
}
