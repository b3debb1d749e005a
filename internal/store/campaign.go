package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCampaignParams represents parameters for creating a campaign
type CreateCampaignParams struct {
	UserID          uuid.UUID
	Name            string
	MessageTemplate string
	TargetType      string
	TargetIDs       UUIDArray
	ConnectionID    uuid.UUID
	ScheduledAt     *time.Time
	IntervalMin     int
	IntervalMax     int
	UseAIGeneration bool
	UseMissedCall   bool
	Variables       JSONB
	TotalContacts   int
	Status          string
}

const sqlCreateCampaign = `
INSERT INTO campaigns (
    user_id, name, message_template, target_type, target_ids, connection_id,
    scheduled_at, interval_min, interval_max, use_ai_generation, use_missed_call,
    variables, total_contacts, status
) VALUES ($1, $2, $3, $4, $5::uuid[], $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id, user_id, name, message_template, target_type, target_ids, connection_id,
    scheduled_at, interval_min, interval_max, use_ai_generation, use_missed_call,
    variables, status, total_contacts, sent_count, failed_count, created_at, updated_at
`

// CreateCampaign creates a new campaign. The total contact count is computed
// once by the caller and never changes afterwards.
func (s *Store) CreateCampaign(ctx context.Context, params CreateCampaignParams) (Campaign, error) {
	var campaign Campaign
	err := s.db.GetContext(ctx, &campaign, sqlCreateCampaign,
		params.UserID,
		params.Name,
		params.MessageTemplate,
		params.TargetType,
		params.TargetIDs,
		params.ConnectionID,
		params.ScheduledAt,
		params.IntervalMin,
		params.IntervalMax,
		params.UseAIGeneration,
		params.UseMissedCall,
		params.Variables,
		params.TotalContacts,
		params.Status)
	if err != nil {
		s.logger.Error(ctx, "failed to create campaign", err)
		return Campaign{}, fmt.Errorf("failed to create campaign: %w", err)
	}
	return campaign, nil
}

const sqlGetCampaignByID = `
SELECT id, user_id, name, message_template, target_type, target_ids, connection_id,
    scheduled_at, interval_min, interval_max, use_ai_generation, use_missed_call,
    variables, status, total_contacts, sent_count, failed_count, created_at, updated_at
FROM campaigns
WHERE id = $1
`

// GetCampaignByID retrieves a campaign by ID.
func (s *Store) GetCampaignByID(ctx context.Context, campaignID uuid.UUID) (Campaign, error) {
	var campaign Campaign
	err := s.db.GetContext(ctx, &campaign, sqlGetCampaignByID, campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get campaign by id", err)
		return Campaign{}, fmt.Errorf("failed to get campaign by id: %w", err)
	}
	return campaign, nil
}

// GetCampaignStatus reads only the current status column. The runner polls
// this between sends, so it stays a single-column lookup.
func (s *Store) GetCampaignStatus(ctx context.Context, campaignID uuid.UUID) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM campaigns WHERE id = $1`, campaignID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		s.logger.Error(ctx, "failed to get campaign status", err)
		return "", fmt.Errorf("failed to get campaign status: %w", err)
	}
	return status, nil
}

const sqlUpdateCampaignStatus = `
UPDATE campaigns
SET status = $2, updated_at = NOW()
WHERE id = $1
RETURNING id, user_id, name, message_template, target_type, target_ids, connection_id,
    scheduled_at, interval_min, interval_max, use_ai_generation, use_missed_call,
    variables, status, total_contacts, sent_count, failed_count, created_at, updated_at
`

// UpdateCampaignStatus sets a campaign's lifecycle state.
func (s *Store) UpdateCampaignStatus(ctx context.Context, campaignID uuid.UUID, status string) (Campaign, error) {
	var campaign Campaign
	err := s.db.GetContext(ctx, &campaign, sqlUpdateCampaignStatus, campaignID, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update campaign status", err)
		return Campaign{}, fmt.Errorf("failed to update campaign status: %w", err)
	}
	return campaign, nil
}

const sqlIncrementCampaignCounters = `
UPDATE campaigns
SET sent_count = sent_count + $2, failed_count = failed_count + $3, updated_at = NOW()
WHERE id = $1
`

// IncrementCampaignCounters atomically bumps the running counters. Each
// campaign has a single runner, so increments never race within one campaign;
// the SQL-level increment keeps campaigns on the same store from clobbering
// each other.
func (s *Store) IncrementCampaignCounters(ctx context.Context, campaignID uuid.UUID, sentDelta, failedDelta int) error {
	_, err := s.db.ExecContext(ctx, sqlIncrementCampaignCounters, campaignID, sentDelta, failedDelta)
	if err != nil {
		s.logger.Error(ctx, "failed to increment campaign counters", err)
		return fmt.Errorf("failed to increment campaign counters: %w", err)
	}
	return nil
}

// ListCampaignsParams represents filters for listing campaigns
type ListCampaignsParams struct {
	UserID uuid.UUID
	Status *string
	Page   int
	Limit  int
}

// ListCampaignsResult contains paginated campaigns
type ListCampaignsResult struct {
	Campaigns []Campaign `json:"campaigns"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
	Pages     int        `json:"pages"`
}

const sqlListCampaigns = `
SELECT id, user_id, name, message_template, target_type, target_ids, connection_id,
    scheduled_at, interval_min, interval_max, use_ai_generation, use_missed_call,
    variables, status, total_contacts, sent_count, failed_count, created_at, updated_at
FROM campaigns
WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`

const sqlCountCampaigns = `
SELECT COUNT(*)
FROM campaigns
WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
`

// ListCampaigns retrieves a user's campaigns with optional status filter and
// pagination.
func (s *Store) ListCampaigns(ctx context.Context, params ListCampaignsParams) (ListCampaignsResult, error) {
	offset := (params.Page - 1) * params.Limit

	var campaigns []Campaign
	err := s.db.SelectContext(ctx, &campaigns, sqlListCampaigns, params.UserID, params.Status, params.Limit, offset)
	if err != nil {
		s.logger.Error(ctx, "failed to list campaigns", err)
		return ListCampaignsResult{}, fmt.Errorf("failed to list campaigns: %w", err)
	}

	var total int
	err = s.db.GetContext(ctx, &total, sqlCountCampaigns, params.UserID, params.Status)
	if err != nil {
		s.logger.Error(ctx, "failed to count campaigns", err)
		return ListCampaignsResult{}, fmt.Errorf("failed to count campaigns: %w", err)
	}

	pages := 0
	if params.Limit > 0 {
		pages = (total + params.Limit - 1) / params.Limit
	}

	return ListCampaignsResult{
		Campaigns: campaigns,
		Total:     total,
		Page:      params.Page,
		Limit:     params.Limit,
		Pages:     pages,
	}, nil
}

// ListScheduledCampaigns returns every campaign waiting on a deferred
// trigger. Used on startup to re-arm triggers lost in a restart; overdue
// campaigns fire immediately on re-arm.
func (s *Store) ListScheduledCampaigns(ctx context.Context) ([]Campaign, error) {
	var campaigns []Campaign
	err := s.db.SelectContext(ctx, &campaigns, `
SELECT id, user_id, name, message_template, target_type, target_ids, connection_id,
    scheduled_at, interval_min, interval_max, use_ai_generation, use_missed_call,
    variables, status, total_contacts, sent_count, failed_count, created_at, updated_at
FROM campaigns
WHERE status = $1 AND scheduled_at IS NOT NULL
ORDER BY scheduled_at`, CampaignStatusScheduled)
	if err != nil {
		s.logger.Error(ctx, "failed to list scheduled campaigns", err)
		return nil, fmt.Errorf("failed to list scheduled campaigns: %w", err)
	}
	return campaigns, nil
}

// CampaignStatusCount is one row of the per-status stats overview.
type CampaignStatusCount struct {
	Status     string  `db:"status" json:"status"`
	Count      int     `db:"count" json:"count"`
	Percentage float64 `db:"percentage" json:"percentage"`
}

// CampaignHourlyCount is one row of the trailing-window hourly stats.
type CampaignHourlyCount struct {
	Hour  time.Time `db:"hour" json:"hour"`
	Count int       `db:"count" json:"count"`
}

const sqlCampaignStatusCounts = `
SELECT status,
    COUNT(*)::int AS count,
    ROUND(COUNT(*) * 100.0 / (SELECT COUNT(*) FROM sent_messages WHERE campaign_id = $1), 2)::float8 AS percentage
FROM sent_messages
WHERE campaign_id = $1
GROUP BY status
`

const sqlCampaignHourlyCounts = `
SELECT DATE_TRUNC('hour', sent_at) AS hour, COUNT(*)::int AS count
FROM sent_messages
WHERE campaign_id = $1 AND sent_at >= NOW() - INTERVAL '24 hours'
GROUP BY DATE_TRUNC('hour', sent_at)
ORDER BY hour
`

// GetCampaignStatusCounts aggregates sent message records by status.
func (s *Store) GetCampaignStatusCounts(ctx context.Context, campaignID uuid.UUID) ([]CampaignStatusCount, error) {
	var counts []CampaignStatusCount
	err := s.db.SelectContext(ctx, &counts, sqlCampaignStatusCounts, campaignID)
	if err != nil {
		s.logger.Error(ctx, "failed to get campaign status counts", err)
		return nil, fmt.Errorf("failed to get campaign status counts: %w", err)
	}
	return counts, nil
}

// GetCampaignHourlyCounts returns per-hour send counts over the trailing 24h.
func (s *Store) GetCampaignHourlyCounts(ctx context.Context, campaignID uuid.UUID) ([]CampaignHourlyCount, error) {
	var counts []CampaignHourlyCount
	err := s.db.SelectContext(ctx, &counts, sqlCampaignHourlyCounts, campaignID)
	if err != nil {
		s.logger.Error(ctx, "failed to get campaign hourly counts", err)
		return nil, fmt.Errorf("failed to get campaign hourly counts: %w", err)
	}
	return counts, nil
}
