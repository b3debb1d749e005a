package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sqlCreateConnection = `
INSERT INTO connections (user_id, name, status)
VALUES ($1, $2, $3)
RETURNING id, user_id, name, phone_number, status, qr_code, last_seen, created_at, updated_at
`

// CreateConnection creates a new connection slot in the connecting state.
func (s *Store) CreateConnection(ctx context.Context, userID uuid.UUID, name string) (Connection, error) {
	var conn Connection
	err := s.db.GetContext(ctx, &conn, sqlCreateConnection, userID, name, ConnectionStatusConnecting)
	if err != nil {
		s.logger.Error(ctx, "failed to create connection", err)
		return Connection{}, fmt.Errorf("failed to create connection: %w", err)
	}
	return conn, nil
}

const sqlGetConnectionByID = `
SELECT id, user_id, name, phone_number, status, qr_code, last_seen, created_at, updated_at
FROM connections
WHERE id = $1
`

// GetConnectionByID retrieves a connection by ID.
func (s *Store) GetConnectionByID(ctx context.Context, connectionID uuid.UUID) (Connection, error) {
	var conn Connection
	err := s.db.GetContext(ctx, &conn, sqlGetConnectionByID, connectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get connection by id", err)
		return Connection{}, fmt.Errorf("failed to get connection by id: %w", err)
	}
	return conn, nil
}

const sqlListConnectionsByUserID = `
SELECT id, user_id, name, phone_number, status, qr_code, last_seen, created_at, updated_at
FROM connections
WHERE user_id = $1
ORDER BY created_at DESC
`

// ListConnectionsByUserID retrieves all connections owned by a user.
func (s *Store) ListConnectionsByUserID(ctx context.Context, userID uuid.UUID) ([]Connection, error) {
	var conns []Connection
	err := s.db.SelectContext(ctx, &conns, sqlListConnectionsByUserID, userID)
	if err != nil {
		s.logger.Error(ctx, "failed to list connections", err)
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// CountConnectionsByUserID returns the number of connection slots a user owns.
func (s *Store) CountConnectionsByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM connections WHERE user_id = $1`, userID)
	if err != nil {
		s.logger.Error(ctx, "failed to count connections", err)
		return 0, fmt.Errorf("failed to count connections: %w", err)
	}
	return count, nil
}

const sqlSetConnectionQRCode = `
UPDATE connections
SET qr_code = $2, status = $3, updated_at = NOW()
WHERE id = $1
`

// SetConnectionQRCode stores a fresh pairing artifact and moves the connection
// to qr_pending. A newer artifact simply replaces the previous one.
func (s *Store) SetConnectionQRCode(ctx context.Context, connectionID uuid.UUID, qrCode string) error {
	_, err := s.db.ExecContext(ctx, sqlSetConnectionQRCode, connectionID, qrCode, ConnectionStatusQRPending)
	if err != nil {
		s.logger.Error(ctx, "failed to set connection qr code", err)
		return fmt.Errorf("failed to set connection qr code: %w", err)
	}
	return nil
}

const sqlMarkConnectionConnected = `
UPDATE connections
SET phone_number = $2, status = $3, qr_code = NULL, last_seen = NOW(), updated_at = NOW()
WHERE id = $1
`

// MarkConnectionConnected records the bound phone number, clears the pairing
// artifact and stamps last_seen.
func (s *Store) MarkConnectionConnected(ctx context.Context, connectionID uuid.UUID, phoneNumber string) error {
	_, err := s.db.ExecContext(ctx, sqlMarkConnectionConnected, connectionID, phoneNumber, ConnectionStatusConnected)
	if err != nil {
		s.logger.Error(ctx, "failed to mark connection connected", err)
		return fmt.Errorf("failed to mark connection connected: %w", err)
	}
	return nil
}

const sqlClearConnectionSession = `
UPDATE connections
SET status = $2, qr_code = NULL, updated_at = NOW()
WHERE id = $1
`

// ClearConnectionSession moves a connection to a terminal-for-session state
// (disconnected or auth_failed) and drops any stored pairing artifact.
func (s *Store) ClearConnectionSession(ctx context.Context, connectionID uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx, sqlClearConnectionSession, connectionID, status)
	if err != nil {
		s.logger.Error(ctx, "failed to clear connection session", err)
		return fmt.Errorf("failed to clear connection session: %w", err)
	}
	return nil
}

const sqlDeleteConnection = `
DELETE FROM connections
WHERE id = $1 AND user_id = $2
`

// DeleteConnection removes a connection owned by a user.
func (s *Store) DeleteConnection(ctx context.Context, connectionID, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, sqlDeleteConnection, connectionID, userID)
	if err != nil {
		s.logger.Error(ctx, "failed to delete connection", err)
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
