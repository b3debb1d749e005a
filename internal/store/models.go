package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JSONB is a custom type for JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for JSONB")
	}

	// Handle empty or null JSON
	if len(bytes) == 0 || string(bytes) == "null" {
		*j = make(JSONB)
		return nil
	}

	result := make(JSONB)
	err := json.Unmarshal(bytes, &result)
	if err != nil {
		return err
	}
	*j = result
	return nil
}

// StringMap returns the JSONB values as strings, skipping non-string entries.
func (j JSONB) StringMap() map[string]string {
	out := make(map[string]string, len(j))
	for k, v := range j {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// UUIDArray is a custom type for PostgreSQL uuid[] arrays
type UUIDArray []uuid.UUID

// Value implements the driver.Valuer interface for UUIDArray
func (a UUIDArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	if len(a) == 0 {
		return "{}", nil
	}
	// PostgreSQL array format: {id1,id2,id3}
	parts := make([]string, len(a))
	for i, id := range a {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// Scan implements the sql.Scanner interface for UUIDArray
func (a *UUIDArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var str string
	switch v := value.(type) {
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return fmt.Errorf("unsupported type for UUIDArray: %T", value)
	}

	str = strings.Trim(str, "{}")
	if str == "" {
		*a = UUIDArray{}
		return nil
	}

	parts := strings.Split(str, ",")
	out := make(UUIDArray, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("invalid uuid in array: %w", err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}

// Connection represents one WhatsApp session slot owned by a user.
type Connection struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	Name        string     `db:"name" json:"name"`
	PhoneNumber *string    `db:"phone_number" json:"phone_number,omitempty"`
	Status      string     `db:"status" json:"status"`
	QRCode      *string    `db:"qr_code" json:"qr_code,omitempty"`
	LastSeen    *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Contact is a messageable address book entry.
type Contact struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Name        string    `db:"name" json:"name"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	IsValid     bool      `db:"is_valid" json:"is_valid"`
	IsWhatsApp  bool      `db:"is_whatsapp" json:"is_whatsapp"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Campaign is a bulk-send job against a resolved contact set.
type Campaign struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	UserID          uuid.UUID  `db:"user_id" json:"user_id"`
	Name            string     `db:"name" json:"name"`
	MessageTemplate string     `db:"message_template" json:"message_template"`
	TargetType      string     `db:"target_type" json:"target_type"`
	TargetIDs       UUIDArray  `db:"target_ids" json:"target_ids"`
	ConnectionID    uuid.UUID  `db:"connection_id" json:"connection_id"`
	ScheduledAt     *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	IntervalMin     int        `db:"interval_min" json:"interval_min"`
	IntervalMax     int        `db:"interval_max" json:"interval_max"`
	UseAIGeneration bool       `db:"use_ai_generation" json:"use_ai_generation"`
	UseMissedCall   bool       `db:"use_missed_call" json:"use_missed_call"`
	Variables       JSONB      `db:"variables" json:"variables"`
	Status          string     `db:"status" json:"status"`
	TotalContacts   int        `db:"total_contacts" json:"total_contacts"`
	SentCount       int        `db:"sent_count" json:"sent_count"`
	FailedCount     int        `db:"failed_count" json:"failed_count"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// SentMessage is the durable per-(campaign, contact) attempt record.
type SentMessage struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	CampaignID   uuid.UUID  `db:"campaign_id" json:"campaign_id"`
	ContactID    uuid.UUID  `db:"contact_id" json:"contact_id"`
	ConnectionID uuid.UUID  `db:"connection_id" json:"connection_id"`
	Content      string     `db:"content" json:"content"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
