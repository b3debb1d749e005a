package processor

import (
	"context"
	"errors"
	"time"

	"github.com/RendaAI-dev/NewChats/internal/events"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/store"
	"github.com/google/uuid"
)

// CampaignStore defines the database operations required by CampaignProcessor
type CampaignStore interface {
	CreateCampaign(ctx context.Context, params store.CreateCampaignParams) (store.Campaign, error)
	GetCampaignByID(ctx context.Context, campaignID uuid.UUID) (store.Campaign, error)
	GetCampaignStatus(ctx context.Context, campaignID uuid.UUID) (string, error)
	ListCampaigns(ctx context.Context, params store.ListCampaignsParams) (store.ListCampaignsResult, error)
	ListScheduledCampaigns(ctx context.Context) ([]store.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, campaignID uuid.UUID, status string) (store.Campaign, error)
	IncrementCampaignCounters(ctx context.Context, campaignID uuid.UUID, sentDelta, failedDelta int) error
	GetCampaignStatusCounts(ctx context.Context, campaignID uuid.UUID) ([]store.CampaignStatusCount, error)
	GetCampaignHourlyCounts(ctx context.Context, campaignID uuid.UUID) ([]store.CampaignHourlyCount, error)

	GetConnectionByID(ctx context.Context, connectionID uuid.UUID) (store.Connection, error)

	GetEligibleContacts(ctx context.Context, targetType string, targetIDs store.UUIDArray) ([]store.Contact, error)
	CountEligibleContacts(ctx context.Context, targetType string, targetIDs store.UUIDArray) (int, error)

	RecordSendAttempt(ctx context.Context, campaignID, contactID, connectionID uuid.UUID, content string) (store.SentMessage, error)
	ResetSendAttempt(ctx context.Context, messageID, connectionID uuid.UUID, content string) (store.SentMessage, error)
	UpdateSendResult(ctx context.Context, messageID uuid.UUID, status string, errorMessage *string) error
	GetSendAttempt(ctx context.Context, campaignID, contactID uuid.UUID) (store.SentMessage, error)
}

// ConnectionChecker is the runner's pre-send usability probe.
type ConnectionChecker interface {
	IsUsable(connectionID uuid.UUID) bool
}

// Dispatcher delivers one message through a connection.
type Dispatcher interface {
	SendMessage(ctx context.Context, connectionID uuid.UUID, phoneNumber, content string) error
}

// Augmenter rewrites a rendered message. Failures are tolerated by callers.
type Augmenter interface {
	Augment(ctx context.Context, text string) (string, error)
}

// MissedCallSignaler places the post-send missed call.
type MissedCallSignaler interface {
	Signal(ctx context.Context, phoneNumber string) error
}

var (
	ErrCampaignNotFound       = errors.New("campaign not found")
	ErrUnauthorized           = errors.New("unauthorized access to campaign")
	ErrInvalidCampaignStatus  = errors.New("invalid campaign status")
	ErrInvalidStateTransition = errors.New("campaign is not in a startable or pausable state")
	ErrInvalidInterval        = errors.New("interval_min must not exceed interval_max")
	ErrInvalidTarget          = errors.New("campaign target is empty or invalid")
	ErrEmptyTemplate          = errors.New("message template is empty")
	ErrConnectionNotConnected = errors.New("connection is not connected")
)

// Default pacing bounds in seconds when the campaign does not set them.
const (
	defaultIntervalMin = 30
	defaultIntervalMax = 60
)

type CampaignProcessor struct {
	store     CampaignStore
	checker   ConnectionChecker
	scheduler *scheduler
	logger    *observability.Logger
}

func New(campaignStore CampaignStore, checker ConnectionChecker, dispatcher Dispatcher,
	augmenter Augmenter, missedCall MissedCallSignaler, sink events.Sink,
	logger *observability.Logger) *CampaignProcessor {
	deps := runnerDeps{
		store:      campaignStore,
		checker:    checker,
		dispatcher: dispatcher,
		augmenter:  augmenter,
		missedCall: missedCall,
		sink:       sink,
		logger:     logger,
	}
	return &CampaignProcessor{
		store:     campaignStore,
		checker:   checker,
		scheduler: newScheduler(deps),
		logger:    logger,
	}
}

// CreateCampaignParams represents parameters for creating a campaign
type CreateCampaignParams struct {
	Name            string
	MessageTemplate string
	TargetType      string
	TargetIDs       []uuid.UUID
	ConnectionID    uuid.UUID
	ScheduledAt     *time.Time
	IntervalMin     *int
	IntervalMax     *int
	UseAIGeneration bool
	UseMissedCall   bool
	Variables       map[string]interface{}
}

// CreateCampaign validates and persists a new campaign. Campaigns with a
// future fire time are created as scheduled and armed; everything else is a
// draft awaiting an explicit start.
func (p *CampaignProcessor) CreateCampaign(ctx context.Context, userID uuid.UUID, params CreateCampaignParams) (store.Campaign, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
	)

	if params.MessageTemplate == "" {
		return store.Campaign{}, ErrEmptyTemplate
	}
	if !isValidTargetType(params.TargetType) || len(params.TargetIDs) == 0 {
		return store.Campaign{}, ErrInvalidTarget
	}

	intervalMin, intervalMax := defaultIntervalMin, defaultIntervalMax
	if params.IntervalMin != nil {
		intervalMin = *params.IntervalMin
	}
	if params.IntervalMax != nil {
		intervalMax = *params.IntervalMax
	}
	if intervalMin < 0 || intervalMin > intervalMax {
		return store.Campaign{}, ErrInvalidInterval
	}

	conn, err := p.store.GetConnectionByID(ctx, params.ConnectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Campaign{}, ErrConnectionNotConnected
		}
		p.logger.Error(ctx, "failed to get connection", err)
		return store.Campaign{}, err
	}
	if conn.UserID != userID {
		return store.Campaign{}, ErrUnauthorized
	}
	if !p.checker.IsUsable(params.ConnectionID) {
		return store.Campaign{}, ErrConnectionNotConnected
	}

	targetIDs := store.UUIDArray(params.TargetIDs)
	total, err := p.store.CountEligibleContacts(ctx, params.TargetType, targetIDs)
	if err != nil {
		p.logger.Error(ctx, "failed to count eligible contacts", err)
		return store.Campaign{}, err
	}

	status := store.CampaignStatusDraft
	if params.ScheduledAt != nil {
		status = store.CampaignStatusScheduled
	}

	campaign, err := p.store.CreateCampaign(ctx, store.CreateCampaignParams{
		UserID:          userID,
		Name:            params.Name,
		MessageTemplate: params.MessageTemplate,
		TargetType:      params.TargetType,
		TargetIDs:       targetIDs,
		ConnectionID:    params.ConnectionID,
		ScheduledAt:     params.ScheduledAt,
		IntervalMin:     intervalMin,
		IntervalMax:     intervalMax,
		UseAIGeneration: params.UseAIGeneration,
		UseMissedCall:   params.UseMissedCall,
		Variables:       store.JSONB(params.Variables),
		TotalContacts:   total,
		Status:          status,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create campaign", err)
		return store.Campaign{}, err
	}

	if status == store.CampaignStatusScheduled {
		if err := p.scheduler.schedule(ctx, campaign); err != nil {
			p.logger.Error(ctx, "failed to schedule campaign", err)
			return store.Campaign{}, err
		}
	}

	p.logger.Info(ctx, "campaign created successfully")
	return campaign, nil
}

// GetCampaign retrieves a campaign by ID after an ownership check.
func (p *CampaignProcessor) GetCampaign(ctx context.Context, userID, campaignID uuid.UUID) (store.Campaign, error) {
	return p.ownedCampaign(ctx, userID, campaignID)
}

// ListCampaigns retrieves campaigns with pagination and an optional status
// filter.
func (p *CampaignProcessor) ListCampaigns(ctx context.Context, userID uuid.UUID, status *string, page, limit int) (store.ListCampaignsResult, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "page", Value: page},
		observability.Field{Key: "limit", Value: limit},
	)

	if status != nil && !isValidCampaignStatus(*status) {
		return store.ListCampaignsResult{}, ErrInvalidCampaignStatus
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := p.store.ListCampaigns(ctx, store.ListCampaignsParams{
		UserID: userID,
		Status: status,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to list campaigns", err)
		return store.ListCampaignsResult{}, err
	}
	if result.Campaigns == nil {
		result.Campaigns = []store.Campaign{}
	}
	return result, nil
}

// CampaignStats bundles the aggregates for one campaign.
type CampaignStats struct {
	Campaign     store.Campaign              `json:"campaign"`
	StatusCounts []store.CampaignStatusCount `json:"status_counts"`
	Hourly       []store.CampaignHourlyCount `json:"hourly"`
}

// GetCampaignStats returns per-status counts and the trailing 24h hourly
// send volume.
func (p *CampaignProcessor) GetCampaignStats(ctx context.Context, userID, campaignID uuid.UUID) (CampaignStats, error) {
	campaign, err := p.ownedCampaign(ctx, userID, campaignID)
	if err != nil {
		return CampaignStats{}, err
	}

	statusCounts, err := p.store.GetCampaignStatusCounts(ctx, campaignID)
	if err != nil {
		p.logger.Error(ctx, "failed to get status counts", err)
		return CampaignStats{}, err
	}
	hourly, err := p.store.GetCampaignHourlyCounts(ctx, campaignID)
	if err != nil {
		p.logger.Error(ctx, "failed to get hourly counts", err)
		return CampaignStats{}, err
	}
	if statusCounts == nil {
		statusCounts = []store.CampaignStatusCount{}
	}
	if hourly == nil {
		hourly = []store.CampaignHourlyCount{}
	}

	return CampaignStats{Campaign: campaign, StatusCounts: statusCounts, Hourly: hourly}, nil
}

// StartCampaign transitions a draft or paused campaign to running and spawns
// its runner. Starting an already-running campaign is an error with no side
// effect.
func (p *CampaignProcessor) StartCampaign(ctx context.Context, userID, campaignID uuid.UUID) (store.Campaign, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "campaign_id", Value: campaignID.String()},
	)

	campaign, err := p.ownedCampaign(ctx, userID, campaignID)
	if err != nil {
		return store.Campaign{}, err
	}
	if campaign.Status != store.CampaignStatusDraft && campaign.Status != store.CampaignStatusPaused {
		return store.Campaign{}, ErrInvalidStateTransition
	}
	if p.scheduler.hasRunner(campaignID) {
		return store.Campaign{}, ErrCampaignAlreadyRunning
	}

	campaign, err = p.store.UpdateCampaignStatus(ctx, campaignID, store.CampaignStatusRunning)
	if err != nil {
		p.logger.Error(ctx, "failed to update campaign status", err)
		return store.Campaign{}, err
	}
	if err := p.scheduler.startRunner(ctx, campaign); err != nil {
		return store.Campaign{}, err
	}

	p.logger.Info(ctx, "campaign started")
	return campaign, nil
}

// PauseCampaign transitions a running or scheduled campaign to paused. The
// runner observes the stop signal before its next send; a scheduled trigger
// that has not fired is cancelled.
func (p *CampaignProcessor) PauseCampaign(ctx context.Context, userID, campaignID uuid.UUID) (store.Campaign, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "campaign_id", Value: campaignID.String()},
	)

	campaign, err := p.ownedCampaign(ctx, userID, campaignID)
	if err != nil {
		return store.Campaign{}, err
	}
	if campaign.Status != store.CampaignStatusRunning && campaign.Status != store.CampaignStatusScheduled {
		return store.Campaign{}, ErrInvalidStateTransition
	}

	campaign, err = p.store.UpdateCampaignStatus(ctx, campaignID, store.CampaignStatusPaused)
	if err != nil {
		p.logger.Error(ctx, "failed to update campaign status", err)
		return store.Campaign{}, err
	}
	p.scheduler.cancelTimer(campaignID)
	p.scheduler.signalStop(campaignID)

	p.logger.Info(ctx, "campaign paused")
	return campaign, nil
}

// RestoreScheduled re-arms triggers for scheduled campaigns after a restart.
// Campaigns whose fire time passed while the process was down start
// immediately.
func (p *CampaignProcessor) RestoreScheduled(ctx context.Context) error {
	scheduled, err := p.store.ListScheduledCampaigns(ctx)
	if err != nil {
		return err
	}
	for _, campaign := range scheduled {
		if err := p.scheduler.schedule(ctx, campaign); err != nil {
			p.logger.Error(ctx, "failed to restore scheduled campaign", err)
		}
	}
	return nil
}

// Shutdown stops all runners and waits for them to drain.
func (p *CampaignProcessor) Shutdown(timeout time.Duration) {
	p.scheduler.shutdown(timeout)
}

func (p *CampaignProcessor) ownedCampaign(ctx context.Context, userID, campaignID uuid.UUID) (store.Campaign, error) {
	campaign, err := p.store.GetCampaignByID(ctx, campaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Campaign{}, ErrCampaignNotFound
		}
		p.logger.Error(ctx, "failed to get campaign", err)
		return store.Campaign{}, err
	}
	if campaign.UserID != userID {
		return store.Campaign{}, ErrUnauthorized
	}
	return campaign, nil
}

func isValidCampaignStatus(status string) bool {
	validStatuses := map[string]bool{
		store.CampaignStatusDraft:     true,
		store.CampaignStatusScheduled: true,
		store.CampaignStatusRunning:   true,
		store.CampaignStatusPaused:    true,
		store.CampaignStatusCompleted: true,
		store.CampaignStatusFailed:    true,
	}
	return validStatuses[status]
}

func isValidTargetType(targetType string) bool {
	return targetType == store.TargetTypeList || targetType == store.TargetTypeIndividual
}
