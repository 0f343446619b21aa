package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaybot/dashboard/internal/models"
	"github.com/relaybot/dashboard/pkg/metrics"
	"github.com/relaybot/dashboard/pkg/response"
)

// LoginRequest is the body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the success body for POST /api/login.
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// EventRecorder appends operator-visible records.
type EventRecorder interface {
	Append(level models.Level, message string) models.LogRecord
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	store  *Store
	events EventRecorder
	logger *zap.Logger
}

// NewHandler creates an auth handler. events may be nil.
func NewHandler(store *Store, events EventRecorder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, events: events, logger: logger}
}

// Login handles POST /api/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	token, err := h.store.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			metrics.Logins.WithLabelValues("invalid").Inc()
			h.record(models.LevelWarn, "Dashboard login failed from "+c.ClientIP())
			response.Unauthorized(c, "Invalid credentials")
			return
		}
		metrics.Logins.WithLabelValues("error").Inc()
		h.logger.Error("issue session token", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}

	metrics.Logins.WithLabelValues("ok").Inc()
	h.record(models.LevelInfo, "Dashboard login from "+c.ClientIP())
	c.JSON(http.StatusOK, LoginResponse{Success: true, Token: token})
}

func (h *Handler) record(level models.Level, msg string) {
	if h.events != nil {
		h.events.Append(level, msg)
	}
}
