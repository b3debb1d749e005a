package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/RendaAI-dev/NewChats/internal/connection/driver"
	"github.com/RendaAI-dev/NewChats/internal/events"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/store"
	"github.com/google/uuid"
)

type fakeConnectionStore struct {
	mu            sync.Mutex
	qrCodes       map[uuid.UUID]string
	connected     map[uuid.UUID]string
	clearedStates map[uuid.UUID]string
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{
		qrCodes:       make(map[uuid.UUID]string),
		connected:     make(map[uuid.UUID]string),
		clearedStates: make(map[uuid.UUID]string),
	}
}

func (f *fakeConnectionStore) SetConnectionQRCode(_ context.Context, id uuid.UUID, qr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qrCodes[id] = qr
	return nil
}

func (f *fakeConnectionStore) MarkConnectionConnected(_ context.Context, id uuid.UUID, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[id] = phone
	return nil
}

func (f *fakeConnectionStore) ClearConnectionSession(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedStates[id] = status
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeSink) Publish(_ context.Context, event events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSink) published() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Event, len(f.events))
	copy(out, f.events)
	return out
}

func newTestRegistry() (*Registry, *fakeConnectionStore, *fakeSink) {
	connStore := newFakeConnectionStore()
	sink := &fakeSink{}
	return New(connStore, sink, observability.NewLogger()), connStore, sink
}

func TestRegistryPairingFlow(t *testing.T) {
	reg, connStore, sink := newTestRegistry()
	ctx := context.Background()
	connID := uuid.New()
	userID := uuid.New()

	reg.Register(connID, userID)
	if status, ok := reg.Status(connID); !ok || status != store.ConnectionStatusConnecting {
		t.Fatalf("after register: status = %q, ok = %v", status, ok)
	}
	if reg.IsUsable(connID) {
		t.Error("connecting session reported usable")
	}

	reg.Apply(ctx, driver.Event{Type: driver.EventQRGenerated, ConnectionID: connID, QRCode: "data:image/png;base64,AAA"})
	if status, _ := reg.Status(connID); status != store.ConnectionStatusQRPending {
		t.Errorf("after qr event: status = %q, want %q", status, store.ConnectionStatusQRPending)
	}
	if got := connStore.qrCodes[connID]; got != "data:image/png;base64,AAA" {
		t.Errorf("persisted qr = %q", got)
	}

	// A refreshed artifact replaces the previous one without leaving qr_pending.
	reg.Apply(ctx, driver.Event{Type: driver.EventQRGenerated, ConnectionID: connID, QRCode: "data:image/png;base64,BBB"})
	if status, _ := reg.Status(connID); status != store.ConnectionStatusQRPending {
		t.Errorf("after second qr event: status = %q", status)
	}
	if got := connStore.qrCodes[connID]; got != "data:image/png;base64,BBB" {
		t.Errorf("refreshed qr not persisted, got %q", got)
	}

	reg.Apply(ctx, driver.Event{Type: driver.EventAuthenticated, ConnectionID: connID, PhoneNumber: "5511999999999"})
	if !reg.IsUsable(connID) {
		t.Error("authenticated session not usable")
	}
	if got := connStore.connected[connID]; got != "5511999999999" {
		t.Errorf("persisted phone = %q", got)
	}

	published := sink.published()
	if len(published) != 3 {
		t.Fatalf("published %d events, want 3", len(published))
	}
	wantTypes := []string{events.EventQRCode, events.EventQRCode, events.EventWhatsAppConnected}
	for i, want := range wantTypes {
		if published[i].Type != want {
			t.Errorf("event[%d].Type = %q, want %q", i, published[i].Type, want)
		}
		if published[i].UserID != userID {
			t.Errorf("event[%d].UserID = %s, want %s", i, published[i].UserID, userID)
		}
	}
}

func TestRegistrySessionLoss(t *testing.T) {
	tests := []struct {
		name       string
		event      driver.EventType
		wantStatus string
		wantEvent  string
	}{
		{"session lost", driver.EventSessionLost, store.ConnectionStatusDisconnected, events.EventWhatsAppDisconnected},
		{"auth rejected", driver.EventAuthRejected, store.ConnectionStatusAuthFailed, events.EventWhatsAppAuthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, connStore, sink := newTestRegistry()
			ctx := context.Background()
			connID := uuid.New()

			reg.Register(connID, uuid.New())
			reg.Apply(ctx, driver.Event{Type: driver.EventQRGenerated, ConnectionID: connID, QRCode: "qr"})
			reg.Apply(ctx, driver.Event{Type: driver.EventAuthenticated, ConnectionID: connID, PhoneNumber: "551188887777"})

			reg.Apply(ctx, driver.Event{Type: tt.event, ConnectionID: connID, Reason: "transport closed"})

			if reg.IsUsable(connID) {
				t.Error("lost session still usable")
			}
			if status, _ := reg.Status(connID); status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status, tt.wantStatus)
			}
			if got := connStore.clearedStates[connID]; got != tt.wantStatus {
				t.Errorf("persisted cleared status = %q, want %q", got, tt.wantStatus)
			}

			published := sink.published()
			last := published[len(published)-1]
			if last.Type != tt.wantEvent {
				t.Errorf("last event = %q, want %q", last.Type, tt.wantEvent)
			}
		})
	}
}

func TestRegistryDropsInvalidTransitions(t *testing.T) {
	reg, _, sink := newTestRegistry()
	ctx := context.Background()
	connID := uuid.New()

	reg.Register(connID, uuid.New())
	reg.Apply(ctx, driver.Event{Type: driver.EventAuthenticated, ConnectionID: connID, PhoneNumber: "551100001111"})

	// Pairing artifact arriving after authentication must not regress the state.
	reg.Apply(ctx, driver.Event{Type: driver.EventQRGenerated, ConnectionID: connID, QRCode: "stale"})
	if status, _ := reg.Status(connID); status != store.ConnectionStatusConnected {
		t.Errorf("status = %q, want %q", status, store.ConnectionStatusConnected)
	}

	// Duplicate authentication is idempotent and publishes nothing new.
	before := len(sink.published())
	reg.Apply(ctx, driver.Event{Type: driver.EventAuthenticated, ConnectionID: connID, PhoneNumber: "551100001111"})
	if after := len(sink.published()); after != before {
		t.Errorf("duplicate auth published %d extra events", after-before)
	}
}

func TestRegistryUnknownConnection(t *testing.T) {
	reg, connStore, sink := newTestRegistry()

	reg.Apply(context.Background(), driver.Event{Type: driver.EventQRGenerated, ConnectionID: uuid.New(), QRCode: "qr"})

	if len(connStore.qrCodes) != 0 {
		t.Error("unknown connection event reached the store")
	}
	if len(sink.published()) != 0 {
		t.Error("unknown connection event was published")
	}
}

func TestRegistryDeregister(t *testing.T) {
	reg, _, _ := newTestRegistry()
	connID := uuid.New()

	reg.Register(connID, uuid.New())
	reg.Deregister(connID)

	if _, ok := reg.Status(connID); ok {
		t.Error("deregistered connection still has an entry")
	}
	if reg.IsUsable(connID) {
		t.Error("deregistered connection reported usable")
	}
}
