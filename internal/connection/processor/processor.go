package processor

import (
	"context"
	"errors"

	"github.com/RendaAI-dev/NewChats/internal/connection/driver"
	"github.com/RendaAI-dev/NewChats/internal/connection/registry"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/store"
	"github.com/google/uuid"
)

// ConnectionStore defines the database operations required by ConnectionProcessor
type ConnectionStore interface {
	CreateConnection(ctx context.Context, userID uuid.UUID, name string) (store.Connection, error)
	GetConnectionByID(ctx context.Context, connectionID uuid.UUID) (store.Connection, error)
	ListConnectionsByUserID(ctx context.Context, userID uuid.UUID) ([]store.Connection, error)
	CountConnectionsByUserID(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteConnection(ctx context.Context, connectionID, userID uuid.UUID) error
}

var (
	ErrConnectionNotFound     = errors.New("connection not found")
	ErrUnauthorized           = errors.New("unauthorized access to connection")
	ErrConnectionLimitReached = errors.New("connection limit reached")
	ErrConnectionNotUsable    = errors.New("connection is not connected")
)

// maxConnectionsPerUser caps how many session slots one user may hold.
const maxConnectionsPerUser = 10

type ConnectionProcessor struct {
	store    ConnectionStore
	registry *registry.Registry
	driver   driver.Driver
	logger   *observability.Logger
}

func New(connStore ConnectionStore, reg *registry.Registry, drv driver.Driver, logger *observability.Logger) ConnectionProcessor {
	return ConnectionProcessor{
		store:    connStore,
		registry: reg,
		driver:   drv,
		logger:   logger,
	}
}

// Connect creates a new connection slot and starts the pairing flow. The
// caller learns about pairing progress through the event sink, not the
// response.
func (p *ConnectionProcessor) Connect(ctx context.Context, userID uuid.UUID, name string) (store.Connection, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
	)

	count, err := p.store.CountConnectionsByUserID(ctx, userID)
	if err != nil {
		p.logger.Error(ctx, "failed to count connections", err)
		return store.Connection{}, err
	}
	if count >= maxConnectionsPerUser {
		p.logger.Warn(ctx, "connection limit reached")
		return store.Connection{}, ErrConnectionLimitReached
	}

	conn, err := p.store.CreateConnection(ctx, userID, name)
	if err != nil {
		p.logger.Error(ctx, "failed to create connection", err)
		return store.Connection{}, err
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "connection_id", Value: conn.ID.String()},
	)

	p.registry.Register(conn.ID, userID)
	if err := p.driver.StartSession(ctx, conn.ID, ""); err != nil {
		p.logger.Error(ctx, "failed to start session", err)
		p.registry.Apply(ctx, driver.Event{
			Type:         driver.EventSessionLost,
			ConnectionID: conn.ID,
			Reason:       "session start failed",
		})
		return store.Connection{}, err
	}

	p.logger.Info(ctx, "connection created, pairing started")
	return conn, nil
}

// Reconnect re-initiates pairing for an existing connection that lost its
// session or failed authentication.
func (p *ConnectionProcessor) Reconnect(ctx context.Context, userID, connectionID uuid.UUID) (store.Connection, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "connection_id", Value: connectionID.String()},
	)

	conn, err := p.ownedConnection(ctx, userID, connectionID)
	if err != nil {
		return store.Connection{}, err
	}

	// A connection that paired before keeps its bound number; handing it to
	// the driver lets it resume the stored credentials instead of re-pairing.
	boundIdentity := ""
	if conn.PhoneNumber != nil {
		boundIdentity = *conn.PhoneNumber
	}

	p.registry.Register(conn.ID, userID)
	if err := p.driver.StartSession(ctx, conn.ID, boundIdentity); err != nil {
		p.logger.Error(ctx, "failed to restart session", err)
		p.registry.Apply(ctx, driver.Event{
			Type:         driver.EventSessionLost,
			ConnectionID: conn.ID,
			Reason:       "session start failed",
		})
		return store.Connection{}, err
	}

	p.logger.Info(ctx, "pairing restarted")
	return conn, nil
}

// List returns every connection the user owns.
func (p *ConnectionProcessor) List(ctx context.Context, userID uuid.UUID) ([]store.Connection, error) {
	conns, err := p.store.ListConnectionsByUserID(ctx, userID)
	if err != nil {
		p.logger.Error(ctx, "failed to list connections", err)
		return nil, err
	}
	if conns == nil {
		conns = []store.Connection{}
	}
	return conns, nil
}

// Get returns one connection after an ownership check.
func (p *ConnectionProcessor) Get(ctx context.Context, userID, connectionID uuid.UUID) (store.Connection, error) {
	return p.ownedConnection(ctx, userID, connectionID)
}

// Disconnect tears down the live session and logs it out. The connection slot
// stays around so the user can re-pair later.
func (p *ConnectionProcessor) Disconnect(ctx context.Context, userID, connectionID uuid.UUID) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "connection_id", Value: connectionID.String()},
	)

	if _, err := p.ownedConnection(ctx, userID, connectionID); err != nil {
		return err
	}

	if err := p.driver.DestroySession(ctx, connectionID, true); err != nil {
		p.logger.Error(ctx, "failed to destroy session", err)
		return err
	}
	p.registry.Apply(ctx, driver.Event{
		Type:         driver.EventSessionLost,
		ConnectionID: connectionID,
		Reason:       "disconnect requested",
	})

	p.logger.Info(ctx, "connection disconnected")
	return nil
}

// Delete removes the connection entirely: live session, registry entry and
// stored row.
func (p *ConnectionProcessor) Delete(ctx context.Context, userID, connectionID uuid.UUID) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "connection_id", Value: connectionID.String()},
	)

	if _, err := p.ownedConnection(ctx, userID, connectionID); err != nil {
		return err
	}

	if err := p.driver.DestroySession(ctx, connectionID, true); err != nil {
		p.logger.Error(ctx, "failed to destroy session", err)
		return err
	}

	if err := p.store.DeleteConnection(ctx, connectionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConnectionNotFound
		}
		p.logger.Error(ctx, "failed to delete connection", err)
		return err
	}
	p.registry.Deregister(connectionID)

	p.logger.Info(ctx, "connection deleted")
	return nil
}

// SendMessage sends a single ad hoc message through a connected session.
func (p *ConnectionProcessor) SendMessage(ctx context.Context, userID, connectionID uuid.UUID, phoneNumber, content string) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: userID.String()},
		observability.Field{Key: "connection_id", Value: connectionID.String()},
	)

	if _, err := p.ownedConnection(ctx, userID, connectionID); err != nil {
		return err
	}
	if !p.registry.IsUsable(connectionID) {
		return ErrConnectionNotUsable
	}

	if err := p.driver.SendMessage(ctx, connectionID, phoneNumber, content); err != nil {
		p.logger.Error(ctx, "failed to send message", err)
		return err
	}
	return nil
}

func (p *ConnectionProcessor) ownedConnection(ctx context.Context, userID, connectionID uuid.UUID) (store.Connection, error) {
	conn, err := p.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Connection{}, ErrConnectionNotFound
		}
		p.logger.Error(ctx, "failed to get connection", err)
		return store.Connection{}, err
	}
	if conn.UserID != userID {
		return store.Connection{}, ErrUnauthorized
	}
	return conn, nil
}
