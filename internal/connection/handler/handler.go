package handler

import (
	"errors"
	"net/http"

	"github.com/RendaAI-dev/NewChats/internal/apierrors"
	"github.com/RendaAI-dev/NewChats/internal/connection/processor"
	"github.com/RendaAI-dev/NewChats/internal/events"
	"github.com/RendaAI-dev/NewChats/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	processor processor.ConnectionProcessor
	hub       *events.Hub
	logger    *observability.Logger
}

func New(processor processor.ConnectionProcessor, hub *events.Hub, logger *observability.Logger) Handler {
	return Handler{
		processor: processor,
		hub:       hub,
		logger:    logger,
	}
}

// ConnectRequest represents the HTTP request for creating a connection
type ConnectRequest struct {
	Name string `json:"name" binding:"required,min=1,max=255"`
}

// SendMessageRequest represents the HTTP request for an ad hoc send
type SendMessageRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required,min=8"`
	Content     string `json:"content" binding:"required,min=1"`
}

// HandleConnect creates a connection slot and starts pairing
func (h *Handler) HandleConnect(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "user_id", Value: userID.String()})

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	conn, err := h.processor.Connect(ctx, userID, req.Name)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, conn)
}

// HandleReconnect restarts pairing for an existing connection
func (h *Handler) HandleReconnect(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	connectionID, ok := h.getConnectionID(c)
	if !ok {
		return
	}

	conn, err := h.processor.Reconnect(ctx, userID, connectionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, conn)
}

// HandleListConnections lists the user's connections
func (h *Handler) HandleListConnections(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	conns, err := h.processor.List(ctx, userID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// HandleGetConnection retrieves one connection
func (h *Handler) HandleGetConnection(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	connectionID, ok := h.getConnectionID(c)
	if !ok {
		return
	}

	conn, err := h.processor.Get(ctx, userID, connectionID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, conn)
}

// HandleDisconnect logs the session out but keeps the connection slot
func (h *Handler) HandleDisconnect(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	connectionID, ok := h.getConnectionID(c)
	if !ok {
		return
	}

	if err := h.processor.Disconnect(ctx, userID, connectionID); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "disconnected"})
}

// HandleDeleteConnection removes the connection entirely
func (h *Handler) HandleDeleteConnection(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	connectionID, ok := h.getConnectionID(c)
	if !ok {
		return
	}

	if err := h.processor.Delete(ctx, userID, connectionID); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// HandleSendMessage sends a single message through a connected session
func (h *Handler) HandleSendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	connectionID, ok := h.getConnectionID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	if err := h.processor.SendMessage(ctx, userID, connectionID, req.PhoneNumber, req.Content); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "sent"})
}

// HandleEvents upgrades to a websocket carrying the user's event stream
func (h *Handler) HandleEvents(c *gin.Context) {
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	if err := h.hub.Serve(c.Writer, c.Request, userID); err != nil {
		// Serve already wrote the upgrade failure response.
		return
	}
}

func (h *Handler) getUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := c.Get("User-ID")
	if !exists {
		apierrors.Unauthorized(c, "User ID not found in context")
		return uuid.UUID{}, false
	}

	userID, err := uuid.Parse(userIDStr.(string))
	if err != nil {
		apierrors.BadRequest(c, "INVALID_INPUT", "Invalid user ID format")
		return uuid.UUID{}, false
	}
	return userID, true
}

func (h *Handler) getConnectionID(c *gin.Context) (uuid.UUID, bool) {
	connectionID, err := uuid.Parse(c.Param("connection_id"))
	if err != nil {
		apierrors.BadRequest(c, "INVALID_INPUT", "Invalid connection ID format")
		return uuid.UUID{}, false
	}
	return connectionID, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrConnectionNotFound):
		apierrors.NotFound(c, "Connection not found")
	case errors.Is(err, processor.ErrUnauthorized):
		apierrors.Forbidden(c, "FORBIDDEN", "You do not have access to this connection")
	case errors.Is(err, processor.ErrConnectionLimitReached):
		apierrors.Forbidden(c, "CONNECTION_LIMIT_REACHED", "You have reached the maximum number of connections")
	case errors.Is(err, processor.ErrConnectionNotUsable):
		apierrors.PreconditionFailed(c, "NOT_CONNECTED", "Connection is not connected")
	default:
		apierrors.InternalError(c, err)
	}
}
