// Package twilio places the missed-call signal some campaigns trigger after a
// successful send: a short voice call that hangs up before it is answered.
package twilio

import (
	"context"
	"fmt"

	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// MissedCallSignaler places abandoned calls through the Twilio voice API.
type MissedCallSignaler struct {
	client     *twilio.RestClient
	fromNumber string
	logger     *observability.Logger
}

// NewMissedCallSignaler creates a signaler. All three credentials must be set.
func NewMissedCallSignaler(accountSID, authToken, fromNumber string, logger *observability.Logger) (*MissedCallSignaler, error) {
	if accountSID == "" || authToken == "" || fromNumber == "" {
		return nil, fmt.Errorf("twilio credentials not fully configured")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &MissedCallSignaler{client: client, fromNumber: fromNumber, logger: logger}, nil
}

// Signal places a call that hangs up immediately, leaving a missed-call entry
// on the recipient's phone.
func (s *MissedCallSignaler) Signal(ctx context.Context, phoneNumber string) error {
	hangup, err := twiml.Voice([]twiml.Element{&twiml.VoiceHangup{}})
	if err != nil {
		return fmt.Errorf("failed to build hangup twiml: %w", err)
	}

	params := &api.CreateCallParams{}
	params.SetTo("+" + phoneNumber)
	params.SetFrom(s.fromNumber)
	params.SetTwiml(hangup)

	if _, err := s.client.Api.CreateCall(params); err != nil {
		s.logger.Error(ctx, "Failed to place missed call", err)
		return fmt.Errorf("failed to place missed call: %w", err)
	}
	return nil
}
