package stats

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Version is reported by /health and /status; overridden at build time with -ldflags.
var Version = "2.0.0"

// StatusReporter reports a collaborator's health ("ok", "degraded", "down", "disabled").
type StatusReporter interface {
	Status() string
}

// Counter reports a live count (connected viewers, issued sessions).
type Counter interface {
	Count() int
}

// Deps are the collaborators the stats endpoints report on. Any may be nil.
type Deps struct {
	AI        StatusReporter
	Messaging StatusReporter
	Viewers   Counter
	Sessions  Counter
}

// Response is the body for GET /api/stats.
type Response struct {
	BotStatus    string `json:"botStatus"`
	MessageCount int    `json:"messageCount"`
	Uptime       string `json:"uptime"`
	APIStatus    string `json:"apiStatus"`
	Connected    bool   `json:"connected"`
	Timestamp    string `json:"timestamp"`
	ActiveChats  int    `json:"activeChats"`
	Viewers      int    `json:"viewers"`
	Sessions     int    `json:"sessions"`
}

// Handler serves stats, health and status endpoints.
type Handler struct {
	agg  *Aggregator
	deps Deps
}

// NewHandler creates a stats handler.
func NewHandler(agg *Aggregator, deps Deps) *Handler {
	return &Handler{agg: agg, deps: deps}
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(c *gin.Context) {
	snap := h.agg.Snapshot()
	out := Response{
		BotStatus:    snap.Status,
		MessageCount: snap.MessageCount,
		Uptime:       snap.Uptime,
		APIStatus:    statusOf(h.deps.AI),
		Connected:    statusOf(h.deps.Messaging) == "ok",
		Timestamp:    h.agg.now().UTC().Format(time.RFC3339),
		ActiveChats:  snap.ActiveChats,
	}
	if h.deps.Viewers != nil {
		out.Viewers = h.deps.Viewers.Count()
	}
	if h.deps.Sessions != nil {
		out.Sessions = h.deps.Sessions.Count()
	}
	c.JSON(http.StatusOK, out)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.agg.now().UTC().Format(time.RFC3339),
		"version":   Version,
		"services": gin.H{
			"ai":        statusOf(h.deps.AI),
			"messaging": statusOf(h.deps.Messaging),
			"server":    true,
		},
	})
}

// Status handles GET /status.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"bot":      "relay",
		"version":  Version,
		"platform": "Telegram",
		"features": []string{
			"AI-powered responses",
			"Automation notifications",
			"Live operator dashboard",
		},
		"uptime":    h.agg.Uptime().Seconds(),
		"timestamp": h.agg.now().UTC().Format(time.RFC3339),
	})
}

func statusOf(r StatusReporter) string {
	if r == nil {
		return "disabled"
	}
	return r.Status()
}
