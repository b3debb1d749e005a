// Package registry owns the connection lifecycle state machine. Drivers never
// mutate connection state directly: they emit events that Apply folds into the
// machine, and every other component reads through the registry's methods.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/RendaAI-dev/NewChats/internal/connection/driver"
	"github.com/RendaAI-dev/NewChats/internal/events"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/store"
	"github.com/google/uuid"
)

// ConnectionStore persists the durable side of session state changes.
type ConnectionStore interface {
	SetConnectionQRCode(ctx context.Context, connectionID uuid.UUID, qrCode string) error
	MarkConnectionConnected(ctx context.Context, connectionID uuid.UUID, phoneNumber string) error
	ClearConnectionSession(ctx context.Context, connectionID uuid.UUID, status string) error
}

type session struct {
	userID      uuid.UUID
	status      string
	phoneNumber string
	qrCode      string
	lastSeen    time.Time
}

// Registry tracks one session entry per connection id.
type Registry struct {
	store  ConnectionStore
	sink   events.Sink
	logger *observability.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// New creates an empty registry.
func New(connStore ConnectionStore, sink events.Sink, logger *observability.Logger) *Registry {
	return &Registry{
		store:    connStore,
		sink:     sink,
		logger:   logger,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Register creates or resets the entry for a connection and puts it in the
// connecting state. Called when the owner initiates (or re-initiates) pairing.
func (r *Registry) Register(connectionID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[connectionID] = &session{
		userID: userID,
		status: store.ConnectionStatusConnecting,
	}
}

// Deregister removes the entry entirely. Only connection deletion calls this;
// disconnects keep the entry in a terminal-for-session state.
func (r *Registry) Deregister(connectionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, connectionID)
}

// IsUsable reports whether the connection can carry a send right now. It is a
// map read under RLock and never touches the driver.
func (r *Registry) IsUsable(connectionID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connectionID]
	return ok && s.status == store.ConnectionStatusConnected
}

// Status returns the current lifecycle state, or false if the connection has
// no registry entry.
func (r *Registry) Status(connectionID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connectionID]
	if !ok {
		return "", false
	}
	return s.status, true
}

// Apply folds one driver event into the state machine. It is the only
// event-ingestion path. Events for unknown connections and transitions the
// machine does not allow are logged and dropped.
func (r *Registry) Apply(ctx context.Context, event driver.Event) {
	r.mu.Lock()
	s, ok := r.sessions[event.ConnectionID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn(r.eventCtx(ctx, event), "dropping event for unknown connection")
		return
	}

	var (
		userID  = s.userID
		publish events.Event
	)

	switch event.Type {
	case driver.EventQRGenerated:
		if s.status != store.ConnectionStatusConnecting && s.status != store.ConnectionStatusQRPending {
			r.mu.Unlock()
			r.logger.Warn(r.eventCtx(ctx, event), "dropping qr event in invalid state")
			return
		}
		s.status = store.ConnectionStatusQRPending
		s.qrCode = event.QRCode
		publish = events.Event{
			Type:    events.EventQRCode,
			UserID:  userID,
			Payload: events.QRCodePayload{ConnectionID: event.ConnectionID, QRCode: event.QRCode},
		}
		r.mu.Unlock()

		if err := r.store.SetConnectionQRCode(ctx, event.ConnectionID, event.QRCode); err != nil {
			r.logger.Error(ctx, "failed to persist qr code", err)
		}

	case driver.EventAuthenticated:
		if s.status == store.ConnectionStatusConnected {
			r.mu.Unlock()
			return
		}
		s.status = store.ConnectionStatusConnected
		s.phoneNumber = event.PhoneNumber
		s.qrCode = ""
		s.lastSeen = time.Now()
		publish = events.Event{
			Type:    events.EventWhatsAppConnected,
			UserID:  userID,
			Payload: events.ConnectionPayload{ConnectionID: event.ConnectionID, PhoneNumber: event.PhoneNumber},
		}
		r.mu.Unlock()

		if err := r.store.MarkConnectionConnected(ctx, event.ConnectionID, event.PhoneNumber); err != nil {
			r.logger.Error(ctx, "failed to persist connected state", err)
		}

	case driver.EventSessionLost:
		s.status = store.ConnectionStatusDisconnected
		s.qrCode = ""
		publish = events.Event{
			Type:    events.EventWhatsAppDisconnected,
			UserID:  userID,
			Payload: events.ConnectionPayload{ConnectionID: event.ConnectionID, Reason: event.Reason},
		}
		r.mu.Unlock()

		if err := r.store.ClearConnectionSession(ctx, event.ConnectionID, store.ConnectionStatusDisconnected); err != nil {
			r.logger.Error(ctx, "failed to persist disconnected state", err)
		}

	case driver.EventAuthRejected:
		s.status = store.ConnectionStatusAuthFailed
		s.qrCode = ""
		publish = events.Event{
			Type:    events.EventWhatsAppAuthFailed,
			UserID:  userID,
			Payload: events.ConnectionPayload{ConnectionID: event.ConnectionID, Reason: event.Reason},
		}
		r.mu.Unlock()

		if err := r.store.ClearConnectionSession(ctx, event.ConnectionID, store.ConnectionStatusAuthFailed); err != nil {
			r.logger.Error(ctx, "failed to persist auth failed state", err)
		}

	default:
		r.mu.Unlock()
		r.logger.Warn(r.eventCtx(ctx, event), "dropping event of unknown type")
		return
	}

	r.sink.Publish(ctx, publish)
}

func (r *Registry) eventCtx(ctx context.Context, event driver.Event) context.Context {
	return observability.WithFields(ctx,
		observability.Field{Key: "connection_id", Value: event.ConnectionID.String()},
		observability.Field{Key: "event_type", Value: string(event.Type)},
	)
}
