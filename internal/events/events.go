package events

import (
	"context"

	"github.com/google/uuid"
)

// Event names pushed to connected frontends.
const (
	EventQRCode               = "qr-code"
	EventWhatsAppConnected    = "whatsapp-connected"
	EventWhatsAppDisconnected = "whatsapp-disconnected"
	EventWhatsAppAuthFailed   = "whatsapp-auth-failed"
	EventCampaignProgress     = "campaign-progress"
	EventCampaignCompleted    = "campaign-completed"
	EventCampaignFailed       = "campaign-failed"
)

// Event is a single user-scoped notification. Delivery is best effort:
// consumers observing state changes this way must tolerate duplicates and
// gaps, the store remains the source of truth.
type Event struct {
	Type    string      `json:"type"`
	UserID  uuid.UUID   `json:"-"`
	Payload interface{} `json:"payload"`
}

// Sink receives domain events for fan-out to interested clients.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// QRCodePayload carries a fresh pairing artifact as a data URL.
type QRCodePayload struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	QRCode       string    `json:"qr_code"`
}

// ConnectionPayload announces a connection lifecycle change.
type ConnectionPayload struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// CampaignProgressPayload reports counters after each contact is handled.
type CampaignProgressPayload struct {
	CampaignID    uuid.UUID `json:"campaign_id"`
	Status        string    `json:"status"`
	SentCount     int       `json:"sent_count"`
	FailedCount   int       `json:"failed_count"`
	TotalContacts int       `json:"total_contacts"`
}
