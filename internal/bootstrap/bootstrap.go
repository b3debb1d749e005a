package bootstrap

import (
	"context"
	"fmt"
	"time"

	campaignHandler "github.com/RendaAI-dev/NewChats/internal/campaign/handler"
	campaignProcessor "github.com/RendaAI-dev/NewChats/internal/campaign/processor"
	openaiClient "github.com/RendaAI-dev/NewChats/internal/clients/openai"
	twilioClient "github.com/RendaAI-dev/NewChats/internal/clients/twilio"
	whatsmeowClient "github.com/RendaAI-dev/NewChats/internal/clients/whatsmeow"
	"github.com/RendaAI-dev/NewChats/internal/config"
	"github.com/RendaAI-dev/NewChats/internal/connection/driver"
	connectionHandler "github.com/RendaAI-dev/NewChats/internal/connection/handler"
	connectionProcessor "github.com/RendaAI-dev/NewChats/internal/connection/processor"
	"github.com/RendaAI-dev/NewChats/internal/connection/registry"
	"github.com/RendaAI-dev/NewChats/internal/events"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/store"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store  store.Store
	Logger *observability.Logger

	// Domain
	Hub               *events.Hub
	Registry          *registry.Registry
	Driver            *whatsmeowClient.Client
	CampaignProcessor *campaignProcessor.CampaignProcessor

	// Handlers
	ConnectionHandler connectionHandler.Handler
	CampaignHandler   campaignHandler.Handler
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	// Initialize database store
	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Event fan-out hub
	deps.Hub = events.NewHub(logger)

	// WhatsApp transport driver
	deps.Driver, err = whatsmeowClient.New(ctx, cfg.Channel.SessionStoreDSN,
		time.Duration(cfg.Channel.SendTimeoutSec)*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create whatsapp driver: %w", err)
	}

	// Session registry folds driver events into state + store + hub
	deps.Registry = registry.New(&deps.Store, deps.Hub, logger)
	deps.Driver.SetHandler(func(event driver.Event) {
		deps.Registry.Apply(context.Background(), event)
	})

	// Optional campaign side-effect clients
	augmenter, err := openaiClient.NewAugmenter(cfg.Services.OpenAIAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create augmenter: %w", err)
	}

	var missedCall campaignProcessor.MissedCallSignaler
	if cfg.Services.TwilioAccountSID != "" {
		signaler, err := twilioClient.NewMissedCallSignaler(
			cfg.Services.TwilioAccountSID,
			cfg.Services.TwilioAuthToken,
			cfg.Services.TwilioFromNumber,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create missed call signaler: %w", err)
		}
		missedCall = signaler
	}

	// Processors
	connProcessor := connectionProcessor.New(&deps.Store, deps.Registry, deps.Driver, logger)
	deps.CampaignProcessor = campaignProcessor.New(
		&deps.Store, deps.Registry, deps.Driver, augmenter, missedCall, deps.Hub, logger)

	// Handlers
	deps.ConnectionHandler = connectionHandler.New(connProcessor, deps.Hub, logger)
	deps.CampaignHandler = campaignHandler.New(deps.CampaignProcessor, logger)

	// Re-arm scheduled campaigns lost in the last restart
	if err := deps.CampaignProcessor.RestoreScheduled(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore scheduled campaigns: %w", err)
	}

	return deps, nil
}

// Cleanup releases long-lived resources in reverse dependency order.
func (d *Dependencies) Cleanup() {
	d.CampaignProcessor.Shutdown(10 * time.Second)
	d.Driver.Close()
	d.Hub.Close()
}
