package store

// Connection ENUMs
const (
	ConnectionStatusConnecting   = "connecting"
	ConnectionStatusQRPending    = "qr_pending"
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusAuthFailed   = "auth_failed"
)

// Campaign ENUMs
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

const (
	TargetTypeList       = "list"
	TargetTypeIndividual = "individual"
)

// Sent Message ENUMs
const (
	SentMessageStatusPending = "pending"
	SentMessageStatusSent    = "sent"
	SentMessageStatusFailed  = "failed"
)
