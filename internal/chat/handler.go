package chat

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/pkg/response"
)

// Request is the body for POST /api/chat.
type Request struct {
	Message string `json:"message"`
}

// Response is the body returned by POST /api/chat.
type Response struct {
	Reply string `json:"reply"`
}

// Handler serves the dashboard chat proxy.
type Handler struct {
	relay  *Relay
	events EventLog
}

// NewHandler creates a chat proxy handler.
func NewHandler(relay *Relay, events EventLog) *Handler {
	return &Handler{relay: relay, events: events}
}

// DashboardPromptPrefix starts the record logged for each dashboard prompt. It is
// distinct from the inbound-message prefix so operator traffic is not counted
// as platform messages.
const DashboardPromptPrefix = "Dashboard prompt"

// Chat handles POST /api/chat: the prompt and the reply are both logged; backend
// failures answer 500 with a readable reply.
func (h *Handler) Chat(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		response.BadRequest(c, "message is required")
		return
	}

	h.events.Append(models.LevelInfo, DashboardPromptPrefix+": "+Truncate(msg, 200))
	reply, err := h.relay.Ask(c.Request.Context(), "dashboard", msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Reply: reply})
		return
	}
	h.events.Append(models.LevelInfo, "Reply sent to dashboard: "+Truncate(reply, 200))
	c.JSON(http.StatusOK, Response{Reply: reply})
}
