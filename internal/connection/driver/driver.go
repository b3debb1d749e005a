// Package driver defines the capability surface a messaging transport must
// provide. The session registry and campaign runner depend only on this
// package, never on a concrete transport client.
package driver

import (
	"context"

	"github.com/google/uuid"
)

// EventType enumerates session lifecycle signals a transport can emit.
type EventType string

const (
	// EventQRGenerated carries a fresh pairing artifact for an
	// unauthenticated session.
	EventQRGenerated EventType = "qr_generated"
	// EventAuthenticated fires when the session is paired and usable.
	EventAuthenticated EventType = "authenticated"
	// EventSessionLost fires when an established session drops.
	EventSessionLost EventType = "session_lost"
	// EventAuthRejected fires when the transport refuses the stored
	// credentials. The session cannot recover without re-pairing.
	EventAuthRejected EventType = "auth_rejected"
)

// Event is a lifecycle signal scoped to one connection.
type Event struct {
	Type         EventType
	ConnectionID uuid.UUID
	// QRCode holds a PNG data URL when Type is EventQRGenerated.
	QRCode string
	// PhoneNumber holds the paired number when Type is EventAuthenticated.
	PhoneNumber string
	// Reason carries transport detail for lost or rejected sessions.
	Reason string
}

// Handler consumes driver events. Drivers call it from their own goroutines,
// so implementations must be safe for concurrent use.
type Handler func(event Event)

// Driver is the transport capability contract.
type Driver interface {
	// StartSession begins or resumes the pairing flow for a connection.
	// boundIdentity, when non-empty, names the external identity from a
	// previous pairing; drivers use it to reload stored credentials instead
	// of issuing a fresh pairing artifact. Lifecycle progress is reported
	// through the Handler, not the return value.
	StartSession(ctx context.Context, connectionID uuid.UUID, boundIdentity string) error

	// DestroySession tears the live session down. When logout is true the
	// stored credentials are invalidated so the next start re-pairs.
	DestroySession(ctx context.Context, connectionID uuid.UUID, logout bool) error

	// SendMessage delivers one text message through an authenticated
	// session. The context bounds the attempt.
	SendMessage(ctx context.Context, connectionID uuid.UUID, phoneNumber, content string) error

	// IsConnected reports whether the session is currently authenticated
	// at the transport level.
	IsConnected(connectionID uuid.UUID) bool
}
