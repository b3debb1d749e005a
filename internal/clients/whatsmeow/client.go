// Package whatsmeow backs the connection driver contract with real WhatsApp
// sessions. Each connection id owns at most one live client; session
// credentials live in the whatsmeow sqlstore container.
package whatsmeow

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/RendaAI-dev/NewChats/internal/connection/driver"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	waStore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const qrImageSize = 256

// Client manages whatsmeow sessions keyed by connection id and translates
// transport events into driver events.
type Client struct {
	container   *sqlstore.Container
	logger      *observability.Logger
	waLogger    waLog.Logger
	handler     driver.Handler
	sendTimeout time.Duration

	mu      sync.Mutex
	clients map[uuid.UUID]*whatsmeow.Client
}

// New opens the session credential store and returns a driver with no live
// sessions. SetHandler must be called before any session is started.
func New(ctx context.Context, dsn string, sendTimeout time.Duration, logger *observability.Logger) (*Client, error) {
	dbLog := waLog.Stdout("whatsmeow-db", "WARN", true)
	container, err := sqlstore.New(ctx, "pgx", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return &Client{
		container:   container,
		logger:      logger,
		waLogger:    waLog.Stdout("whatsmeow", "WARN", true),
		sendTimeout: sendTimeout,
		clients:     make(map[uuid.UUID]*whatsmeow.Client),
	}, nil
}

// SetHandler installs the event consumer. Events emitted before this call
// would be lost, so wiring happens before any StartSession.
func (c *Client) SetHandler(handler driver.Handler) {
	c.handler = handler
}

func (c *Client) emit(event driver.Event) {
	if c.handler != nil {
		c.handler(event)
	}
}

func (c *Client) ensureClient(ctx context.Context, connectionID uuid.UUID, boundIdentity string) *whatsmeow.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wc, ok := c.clients[connectionID]; ok {
		return wc
	}

	device := c.loadDevice(ctx, boundIdentity)
	wc := whatsmeow.NewClient(device, c.waLogger)
	wc.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *waEvents.Connected:
			var phone string
			if wc.Store != nil && wc.Store.ID != nil {
				phone = wc.Store.ID.User
			}
			c.emit(driver.Event{
				Type:         driver.EventAuthenticated,
				ConnectionID: connectionID,
				PhoneNumber:  phone,
			})
		case *waEvents.Disconnected:
			c.emit(driver.Event{
				Type:         driver.EventSessionLost,
				ConnectionID: connectionID,
				Reason:       "transport disconnected",
			})
		case *waEvents.StreamReplaced:
			c.emit(driver.Event{
				Type:         driver.EventSessionLost,
				ConnectionID: connectionID,
				Reason:       "stream replaced by another session",
			})
		case *waEvents.LoggedOut:
			c.emit(driver.Event{
				Type:         driver.EventAuthRejected,
				ConnectionID: connectionID,
				Reason:       fmt.Sprintf("logged out: %s", v.Reason),
			})
		}
	})

	c.clients[connectionID] = wc
	return wc
}

// loadDevice resolves the stored device for a previously paired identity so a
// restarted process reconnects without re-pairing. Falls back to a fresh
// device when no identity is bound or no stored device matches it.
func (c *Client) loadDevice(ctx context.Context, boundIdentity string) *waStore.Device {
	if boundIdentity != "" {
		devices, err := c.container.GetAllDevices(ctx)
		if err != nil {
			c.logger.Error(ctx, "failed to list stored devices", err)
		} else {
			for _, device := range devices {
				if device.ID != nil && device.ID.User == boundIdentity {
					return device
				}
			}
			c.logger.Warn(ctx, fmt.Sprintf("no stored device for identity %s, creating fresh device", boundIdentity))
		}
	}
	return c.container.NewDevice()
}

// StartSession connects a session. Unpaired sessions go through the QR flow:
// each pairing code is rendered to a PNG data URL and emitted as a
// qr-generated event until the channel closes.
func (c *Client) StartSession(ctx context.Context, connectionID uuid.UUID, boundIdentity string) error {
	wc := c.ensureClient(ctx, connectionID, boundIdentity)

	if wc.Store.ID != nil {
		if err := wc.Connect(); err != nil {
			return fmt.Errorf("failed to connect paired session: %w", err)
		}
		return nil
	}

	// The QR channel must be requested before Connect. A background context
	// keeps the pairing socket alive past the caller's request scope.
	qrChan, err := wc.GetQRChannel(context.Background())
	if err != nil {
		return fmt.Errorf("failed to open qr channel: %w", err)
	}
	if err := wc.Connect(); err != nil {
		return fmt.Errorf("failed to connect for pairing: %w", err)
	}

	go c.pumpQRChannel(connectionID, qrChan)
	return nil
}

func (c *Client) pumpQRChannel(connectionID uuid.UUID, qrChan <-chan whatsmeow.QRChannelItem) {
	ctx := observability.WithFields(context.Background(),
		observability.Field{Key: "connection_id", Value: connectionID.String()})

	for item := range qrChan {
		switch item.Event {
		case "code":
			png, err := qrcode.Encode(item.Code, qrcode.Medium, qrImageSize)
			if err != nil {
				c.logger.Error(ctx, "failed to encode qr image", err)
				continue
			}
			c.emit(driver.Event{
				Type:         driver.EventQRGenerated,
				ConnectionID: connectionID,
				QRCode:       "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
			})
		case whatsmeow.QRChannelSuccess.Event:
			c.logger.Info(ctx, "qr pairing succeeded")
			return
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(driver.Event{
				Type:         driver.EventSessionLost,
				ConnectionID: connectionID,
				Reason:       "qr pairing timed out",
			})
			return
		default:
			c.logger.Info(ctx, fmt.Sprintf("qr channel event: %s", item.Event))
		}
	}
}

// DestroySession disconnects the session and forgets the client. With logout
// set, the stored credentials are invalidated so the next start re-pairs.
func (c *Client) DestroySession(ctx context.Context, connectionID uuid.UUID, logout bool) error {
	c.mu.Lock()
	wc, ok := c.clients[connectionID]
	if ok {
		delete(c.clients, connectionID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if logout && wc.Store.ID != nil {
		if err := wc.Logout(ctx); err != nil {
			c.logger.Error(ctx, "failed to log out session", err)
		}
	}
	wc.Disconnect()
	return nil
}

// SendMessage delivers one text message, bounded by the configured send
// timeout.
func (c *Client) SendMessage(ctx context.Context, connectionID uuid.UUID, phoneNumber, content string) error {
	c.mu.Lock()
	wc, ok := c.clients[connectionID]
	c.mu.Unlock()
	if !ok || wc.Store.ID == nil {
		return fmt.Errorf("connection %s has no authenticated session", connectionID)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	jid := types.NewJID(phoneNumber, types.DefaultUserServer)
	msg := &waProto.Message{Conversation: proto.String(content)}
	if _, err := wc.SendMessage(sendCtx, jid, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// IsConnected reports transport-level liveness for a session.
func (c *Client) IsConnected(connectionID uuid.UUID) bool {
	c.mu.Lock()
	wc, ok := c.clients[connectionID]
	c.mu.Unlock()
	return ok && wc.IsConnected() && wc.Store.ID != nil
}

// Close disconnects every live session. Used on shutdown.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, wc := range c.clients {
		wc.Disconnect()
		delete(c.clients, id)
	}
}
