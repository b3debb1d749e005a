package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RendaAI-dev/NewChats/internal/apierrors"
	"github.com/RendaAI-dev/NewChats/internal/campaign/processor"
	"github.com/RendaAI-dev/NewChats/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	processor *processor.CampaignProcessor
	logger    *observability.Logger
}

func New(processor *processor.CampaignProcessor, logger *observability.Logger) Handler {
	return Handler{
		processor: processor,
		logger:    logger,
	}
}

// CreateCampaignRequest represents the HTTP request for creating a campaign
type CreateCampaignRequest struct {
	Name            string                 `json:"name" binding:"required,min=1,max=255"`
	MessageTemplate string                 `json:"message_template" binding:"required,min=1"`
	TargetType      string                 `json:"target_type" binding:"required,oneof=list individual"`
	TargetIDs       []uuid.UUID            `json:"target_ids" binding:"required,min=1"`
	ConnectionID    uuid.UUID              `json:"connection_id" binding:"required"`
	ScheduledAt     *time.Time             `json:"scheduled_at,omitempty"`
	IntervalMin     *int                   `json:"interval_min,omitempty" binding:"omitempty,gte=0"`
	IntervalMax     *int                   `json:"interval_max,omitempty" binding:"omitempty,gte=0"`
	UseAIGeneration bool                   `json:"use_ai_generation"`
	UseMissedCall   bool                   `json:"use_missed_call"`
	Variables       map[string]interface{} `json:"variables,omitempty"`
}

// HandleCreateCampaign creates a new campaign
func (h *Handler) HandleCreateCampaign(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "user_id", Value: userID.String()})

	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	campaign, err := h.processor.CreateCampaign(ctx, userID, processor.CreateCampaignParams{
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		TargetType:      req.TargetType,
		TargetIDs:       req.TargetIDs,
		ConnectionID:    req.ConnectionID,
		ScheduledAt:     req.ScheduledAt,
		IntervalMin:     req.IntervalMin,
		IntervalMax:     req.IntervalMax,
		UseAIGeneration: req.UseAIGeneration,
		UseMissedCall:   req.UseMissedCall,
		Variables:       req.Variables,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, campaign)
}

// HandleListCampaigns lists the user's campaigns
func (h *Handler) HandleListCampaigns(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	page := 1
	if pageStr := c.Query("page"); pageStr != "" {
		if _, err := fmt.Sscanf(pageStr, "%d", &page); err != nil || page < 1 {
			page = 1
		}
	}

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if _, err := fmt.Sscanf(limitStr, "%d", &limit); err != nil || limit < 1 || limit > 100 {
			limit = 20
		}
	}

	var status *string
	if statusStr := c.Query("status"); statusStr != "" {
		status = &statusStr
	}

	result, err := h.processor.ListCampaigns(ctx, userID, status, page, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"campaigns": result.Campaigns,
		"pagination": gin.H{
			"total":       result.Total,
			"page":        result.Page,
			"limit":       result.Limit,
			"total_pages": result.Pages,
		},
	})
}

// HandleGetCampaign retrieves a campaign by ID
func (h *Handler) HandleGetCampaign(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	campaignID, ok := h.getCampaignID(c)
	if !ok {
		return
	}

	campaign, err := h.processor.GetCampaign(ctx, userID, campaignID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, campaign)
}

// HandleGetCampaignStats returns delivery aggregates for a campaign
func (h *Handler) HandleGetCampaignStats(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	campaignID, ok := h.getCampaignID(c)
	if !ok {
		return
	}

	stats, err := h.processor.GetCampaignStats(ctx, userID, campaignID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleStartCampaign starts a draft or paused campaign
func (h *Handler) HandleStartCampaign(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	campaignID, ok := h.getCampaignID(c)
	if !ok {
		return
	}

	campaign, err := h.processor.StartCampaign(ctx, userID, campaignID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, campaign)
}

// HandlePauseCampaign pauses a running or scheduled campaign
func (h *Handler) HandlePauseCampaign(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}
	campaignID, ok := h.getCampaignID(c)
	if !ok {
		return
	}

	campaign, err := h.processor.PauseCampaign(ctx, userID, campaignID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, campaign)
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

func (h *Handler) getCampaignID(c *gin.Context) (uuid.UUID, bool) {
	campaignID, err := uuid.Parse(c.Param("campaign_id"))
	if err != nil {
		apierrors.BadRequest(c, "INVALID_INPUT", "Invalid campaign ID format")
		return uuid.UUID{}, false
	}
	return campaignID, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrCampaignNotFound):
		apierrors.NotFound(c, "Campaign not found")
	case errors.Is(err, processor.ErrUnauthorized):
		apierrors.Forbidden(c, "FORBIDDEN", "You do not have access to this campaign")
	case errors.Is(err, processor.ErrInvalidCampaignStatus):
		apierrors.BadRequest(c, "INVALID_STATUS", "Invalid campaign status")
	case errors.Is(err, processor.ErrInvalidInterval):
		apierrors.BadRequest(c, "INVALID_INTERVAL", "interval_min must not exceed interval_max")
	case errors.Is(err, processor.ErrInvalidTarget):
		apierrors.BadRequest(c, "INVALID_TARGET", "Campaign target is empty or invalid")
	case errors.Is(err, processor.ErrEmptyTemplate):
		apierrors.BadRequest(c, "INVALID_TEMPLATE", "Message template must not be empty")
	case errors.Is(err, processor.ErrConnectionNotConnected):
		apierrors.BadRequest(c, "CONNECTION_NOT_CONNECTED", "The selected connection is not connected")
	case errors.Is(err, processor.ErrInvalidStateTransition):
		apierrors.PreconditionFailed(c, "INVALID_STATE", "Campaign is not in a valid state for this operation")
	case errors.Is(err, processor.ErrCampaignAlreadyRunning):
		apierrors.PreconditionFailed(c, "ALREADY_RUNNING", "Campaign already has an active runner")
	default:
		apierrors.InternalError(c, err)
	}
}
