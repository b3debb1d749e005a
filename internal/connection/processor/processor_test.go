package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/RendaAI-dev/NewChats/internal/connection/driver"
	"github.com/RendaAI-dev/NewChats/internal/connection/registry"
	"github.com/RendaAI-dev/NewChats/internal/events"
	"github.com/RendaAI-dev/NewChats/internal/observability"
	"github.com/RendaAI-dev/NewChats/internal/store"
	"github.com/google/uuid"
)

type fakeConnectionStore struct {
	connections map[uuid.UUID]store.Connection
	countByUser map[uuid.UUID]int
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{
		connections: make(map[uuid.UUID]store.Connection),
		countByUser: make(map[uuid.UUID]int),
	}
}

func (f *fakeConnectionStore) CreateConnection(_ context.Context, userID uuid.UUID, name string) (store.Connection, error) {
	conn := store.Connection{
		ID:     uuid.New(),
		UserID: userID,
		Name:   name,
		Status: store.ConnectionStatusConnecting,
	}
	f.connections[conn.ID] = conn
	f.countByUser[userID]++
	return conn, nil
}

func (f *fakeConnectionStore) GetConnectionByID(_ context.Context, id uuid.UUID) (store.Connection, error) {
	conn, ok := f.connections[id]
	if !ok {
		return store.Connection{}, store.ErrNotFound
	}
	return conn, nil
}

func (f *fakeConnectionStore) ListConnectionsByUserID(_ context.Context, userID uuid.UUID) ([]store.Connection, error) {
	var out []store.Connection
	for _, conn := range f.connections {
		if conn.UserID == userID {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (f *fakeConnectionStore) CountConnectionsByUserID(_ context.Context, userID uuid.UUID) (int, error) {
	return f.countByUser[userID], nil
}

func (f *fakeConnectionStore) DeleteConnection(_ context.Context, id, userID uuid.UUID) error {
	conn, ok := f.connections[id]
	if !ok || conn.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.connections, id)
	f.countByUser[userID]--
	return nil
}

type fakeRegistryStore struct{}

func (fakeRegistryStore) SetConnectionQRCode(context.Context, uuid.UUID, string) error { return nil }
func (fakeRegistryStore) MarkConnectionConnected(context.Context, uuid.UUID, string) error {
	return nil
}
func (fakeRegistryStore) ClearConnectionSession(context.Context, uuid.UUID, string) error {
	return nil
}

type nopSink struct{}

func (nopSink) Publish(context.Context, events.Event) {}

type fakeDriver struct {
	started    []uuid.UUID
	identities map[uuid.UUID]string
	destroyed  []uuid.UUID
	loggedOut  map[uuid.UUID]bool
	sent       []string
	startErr   error
	sendErr    error
	destroyErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		identities: make(map[uuid.UUID]string),
		loggedOut:  make(map[uuid.UUID]bool),
	}
}

func (f *fakeDriver) StartSession(_ context.Context, id uuid.UUID, boundIdentity string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	f.identities[id] = boundIdentity
	return nil
}

func (f *fakeDriver) DestroySession(_ context.Context, id uuid.UUID, logout bool) error {
	if f.destroyErr != nil {
		return f.destroyErr
	}
	f.destroyed = append(f.destroyed, id)
	f.loggedOut[id] = logout
	return nil
}

func (f *fakeDriver) SendMessage(_ context.Context, _ uuid.UUID, phone, content string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, phone+":"+content)
	return nil
}

func (f *fakeDriver) IsConnected(uuid.UUID) bool { return true }

func newTestProcessor() (ConnectionProcessor, *fakeConnectionStore, *registry.Registry, *fakeDriver) {
	logger := observability.NewLogger()
	connStore := newFakeConnectionStore()
	reg := registry.New(fakeRegistryStore{}, nopSink{}, logger)
	drv := newFakeDriver()
	return New(connStore, reg, drv, logger), connStore, reg, drv
}

func TestConnectStartsPairing(t *testing.T) {
	p, _, reg, drv := newTestProcessor()
	userID := uuid.New()

	conn, err := p.Connect(context.Background(), userID, "primary")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(drv.started) != 1 || drv.started[0] != conn.ID {
		t.Errorf("driver.StartSession not called for %s", conn.ID)
	}
	if status, ok := reg.Status(conn.ID); !ok || status != store.ConnectionStatusConnecting {
		t.Errorf("registry status = %q, ok = %v", status, ok)
	}
}

func TestReconnectResumesStoredIdentity(t *testing.T) {
	p, connStore, _, drv := newTestProcessor()
	userID := uuid.New()

	conn, err := p.Connect(context.Background(), userID, "primary")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := drv.identities[conn.ID]; got != "" {
		t.Errorf("fresh connect passed identity %q, want none", got)
	}

	// The connection paired earlier and holds a bound number.
	phone := "5511888888888"
	stored := connStore.connections[conn.ID]
	stored.PhoneNumber = &phone
	connStore.connections[conn.ID] = stored

	if _, err := p.Reconnect(context.Background(), userID, conn.ID); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if got := drv.identities[conn.ID]; got != phone {
		t.Errorf("reconnect passed identity %q, want %q", got, phone)
	}
}

func TestConnectEnforcesLimit(t *testing.T) {
	p, connStore, _, _ := newTestProcessor()
	userID := uuid.New()
	connStore.countByUser[userID] = maxConnectionsPerUser

	_, err := p.Connect(context.Background(), userID, "one too many")
	if !errors.Is(err, ErrConnectionLimitReached) {
		t.Errorf("Connect() error = %v, want ErrConnectionLimitReached", err)
	}
}

func TestConnectStartFailureMarksSessionLost(t *testing.T) {
	p, _, reg, drv := newTestProcessor()
	drv.startErr = errors.New("transport down")

	_, err := p.Connect(context.Background(), uuid.New(), "broken")
	if err == nil {
		t.Fatal("Connect() expected error")
	}
	// The slot exists but its session must be in a terminal state.
	for id := range drv.loggedOut {
		if reg.IsUsable(id) {
			t.Error("failed session reported usable")
		}
	}
}

func TestDisconnectKeepsSlot(t *testing.T) {
	p, connStore, reg, drv := newTestProcessor()
	userID := uuid.New()
	conn, _ := p.Connect(context.Background(), userID, "primary")

	if err := p.Disconnect(context.Background(), userID, conn.ID); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if !drv.loggedOut[conn.ID] {
		t.Error("disconnect did not log the session out")
	}
	if status, ok := reg.Status(conn.ID); !ok || status != store.ConnectionStatusDisconnected {
		t.Errorf("registry status = %q, ok = %v", status, ok)
	}
	if _, err := connStore.GetConnectionByID(context.Background(), conn.ID); err != nil {
		t.Error("disconnect removed the connection slot")
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	p, connStore, reg, _ := newTestProcessor()
	userID := uuid.New()
	conn, _ := p.Connect(context.Background(), userID, "primary")

	if err := p.Delete(context.Background(), userID, conn.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := connStore.GetConnectionByID(context.Background(), conn.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("deleted connection still stored")
	}
	if _, ok := reg.Status(conn.ID); ok {
		t.Error("deleted connection still registered")
	}
}

func TestOwnershipChecks(t *testing.T) {
	p, _, _, _ := newTestProcessor()
	owner := uuid.New()
	conn, _ := p.Connect(context.Background(), owner, "primary")

	stranger := uuid.New()
	if err := p.Disconnect(context.Background(), stranger, conn.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Disconnect() by non-owner error = %v, want ErrUnauthorized", err)
	}
	if err := p.Delete(context.Background(), stranger, conn.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Delete() by non-owner error = %v, want ErrUnauthorized", err)
	}
	if _, err := p.Get(context.Background(), stranger, conn.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Get() by non-owner error = %v, want ErrUnauthorized", err)
	}
}

func TestSendMessageRequiresUsableConnection(t *testing.T) {
	p, _, reg, drv := newTestProcessor()
	userID := uuid.New()
	conn, _ := p.Connect(context.Background(), userID, "primary")

	err := p.SendMessage(context.Background(), userID, conn.ID, "5511999999999", "hello")
	if !errors.Is(err, ErrConnectionNotUsable) {
		t.Fatalf("SendMessage() on connecting session error = %v, want ErrConnectionNotUsable", err)
	}

	reg.Apply(context.Background(), driver.Event{
		Type:         driver.EventAuthenticated,
		ConnectionID: conn.ID,
		PhoneNumber:  "5511888888888",
	})
	if err := p.SendMessage(context.Background(), userID, conn.ID, "5511999999999", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(drv.sent) != 1 || drv.sent[0] != "5511999999999:hello" {
		t.Errorf("driver sent = %v", drv.sent)
	}
}
