package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sqlRecordSendAttempt = `
INSERT INTO sent_messages (campaign_id, contact_id, connection_id, content, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, campaign_id, contact_id, connection_id, content, status, error_message, sent_at, created_at
`

// RecordSendAttempt writes the pending attempt record before dispatch so a
// crash mid-send leaves a durable trace.
func (s *Store) RecordSendAttempt(ctx context.Context, campaignID, contactID, connectionID uuid.UUID, content string) (SentMessage, error) {
	var msg SentMessage
	err := s.db.GetContext(ctx, &msg, sqlRecordSendAttempt, campaignID, contactID, connectionID, content, SentMessageStatusPending)
	if err != nil {
		s.logger.Error(ctx, "failed to record send attempt", err)
		return SentMessage{}, fmt.Errorf("failed to record send attempt: %w", err)
	}
	return msg, nil
}

const sqlMarkSendSucceeded = `
UPDATE sent_messages
SET status = $2, sent_at = NOW()
WHERE id = $1
`

const sqlMarkSendFailed = `
UPDATE sent_messages
SET status = $2, error_message = $3
WHERE id = $1
`

// UpdateSendResult finalizes an attempt record. Successful sends get a
// sent_at stamp; failures keep the driver's error text.
func (s *Store) UpdateSendResult(ctx context.Context, messageID uuid.UUID, status string, errorMessage *string) error {
	var err error
	if status == SentMessageStatusSent {
		_, err = s.db.ExecContext(ctx, sqlMarkSendSucceeded, messageID, status)
	} else {
		_, err = s.db.ExecContext(ctx, sqlMarkSendFailed, messageID, status, errorMessage)
	}
	if err != nil {
		s.logger.Error(ctx, "failed to update send result", err)
		return fmt.Errorf("failed to update send result: %w", err)
	}
	return nil
}

const sqlGetSendAttempt = `
SELECT id, campaign_id, contact_id, connection_id, content, status, error_message, sent_at, created_at
FROM sent_messages
WHERE campaign_id = $1 AND contact_id = $2
`

// GetSendAttempt returns the attempt record for a (campaign, contact) pair,
// or ErrNotFound when the contact has never been attempted. Resumed campaigns
// use it to skip contacts already sent and to retry earlier failures in place.
func (s *Store) GetSendAttempt(ctx context.Context, campaignID, contactID uuid.UUID) (SentMessage, error) {
	var msg SentMessage
	err := s.db.GetContext(ctx, &msg, sqlGetSendAttempt, campaignID, contactID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SentMessage{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get send attempt", err)
		return SentMessage{}, fmt.Errorf("failed to get send attempt: %w", err)
	}
	return msg, nil
}

const sqlResetSendAttempt = `
UPDATE sent_messages
SET connection_id = $2, content = $3, status = $4, error_message = NULL, sent_at = NULL
WHERE id = $1
RETURNING id, campaign_id, contact_id, connection_id, content, status, error_message, sent_at, created_at
`

// ResetSendAttempt returns an earlier failed or interrupted attempt to the
// pending state before a retry, so each (campaign, contact) pair keeps exactly
// one record.
func (s *Store) ResetSendAttempt(ctx context.Context, messageID, connectionID uuid.UUID, content string) (SentMessage, error) {
	var msg SentMessage
	err := s.db.GetContext(ctx, &msg, sqlResetSendAttempt, messageID, connectionID, content, SentMessageStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SentMessage{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to reset send attempt", err)
		return SentMessage{}, fmt.Errorf("failed to reset send attempt: %w", err)
	}
	return msg, nil
}
