// Package session implements the session manager component: it composes
// the transport client, wire codec, handler registry, and request tracker
// into the single entry point the rest of the application sends and
// receives through.
//
// The composition root shape — one struct owning its collaborators,
// subscribing to the transport's callbacks in its constructor — mirrors
// internal/session's Manager wiring pattern from the teacher repo,
// generalized from a single realtime provider session to this protocol's
// connect/ack/route pipeline.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nullwave/voxcore/pkg/bus"
	"github.com/nullwave/voxcore/pkg/handler"
	"github.com/nullwave/voxcore/pkg/tracker"
	"github.com/nullwave/voxcore/pkg/transport"
	"github.com/nullwave/voxcore/pkg/voxerr"
	"github.com/nullwave/voxcore/pkg/wire"
)

// DefaultAckTimeout is the timeout SendWithAck uses when the caller does
// not specify one.
const DefaultAckTimeout = 30 * time.Second

// connectionAckEventType is the event_type that carries the session_id to
// latch, per §4.6 step 2.
const connectionAckEventType = "connection.ack"

// Transport is the subset of *transport.Client the session manager drives.
// Defined as an interface so tests can substitute a fake without standing
// up a real websocket.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	OnStateChange(fn func(transport.State)) (unsubscribe func())
	OnData(fn func([]byte)) (unsubscribe func())
	Disconnect(clear bool) error
}

// Manager is the Session Manager described in §4.6. It composes the
// transport client (C1), wire codec (C3), handler registry (C4), and
// request tracker (C5); owns the handler registry and tracker (§5's
// "external components access them only through it"); and re-publishes
// transport state and the latched session id onto the bus (C9).
type Manager struct {
	transport Transport
	registry  *handler.Registry
	tracker   *tracker.Tracker
	bus       *bus.Bus
	log       *slog.Logger

	mu        sync.Mutex
	sessionID string

	unsubState func()
	unsubData  func()
}

// Config configures a Manager.
type Config struct {
	Transport Transport
	Registry  *handler.Registry
	Tracker   *tracker.Tracker
	Bus       *bus.Bus
	Logger    *slog.Logger
}

// New creates a Manager and subscribes to the transport's state and data
// callbacks. The caller retains ownership of Transport's lifecycle
// (Connect/Close); Manager only observes it.
func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		tracker:   cfg.Tracker,
		bus:       cfg.Bus,
		log:       log,
	}

	m.unsubState = cfg.Transport.OnStateChange(m.onTransportState)
	m.unsubData = cfg.Transport.OnData(m.onFrame)
	return m
}

// SessionID returns the currently latched session id, or the empty string
// if no connection.ack has been received yet (or the session has since
// been torn down).
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// onTransportState re-publishes transport state transitions onto the bus
// per §4.6's "observes C1's state and re-emits it on the bus."
func (m *Manager) onTransportState(s transport.State) {
	m.bus.ConnectionState.Publish(bus.ConnectionState(s))
}

// onFrame implements §4.6's incoming-frame processing order: reject
// frames without an event type, latch the session id on connection-ack,
// settle a matching tracked acknowledgment (stopping there if one
// matched), else route via the handler registry.
func (m *Manager) onFrame(raw []byte) {
	msg, err := wire.Decode(raw)
	if err != nil {
		m.log.Error("failed to decode inbound frame", "error", err)
		return
	}
	if msg.EventType == "" {
		m.log.Warn("dropping frame with no event_type", "event_id", msg.EventID)
		return
	}

	if msg.EventType == connectionAckEventType && msg.Payload.SessionID != "" {
		m.mu.Lock()
		m.sessionID = msg.Payload.SessionID
		m.mu.Unlock()
		m.bus.ConnectionAck.Publish(msg.Payload.SessionID)
	}

	if msg.IsAck() && m.tracker.Match(msg.EventID, msg) {
		return
	}

	m.registry.Route(raw, msg)
}

// Send encodes event and hands it to the transport, assigning a fresh
// time-ordered event id first.
func (m *Manager) Send(ctx context.Context, event wire.Message) error {
	event.EventID = wire.NewEventID()
	if event.SessionID == "" {
		event.SessionID = m.SessionID()
	}

	encoded, err := wire.Encode(event)
	if err != nil {
		return voxerr.Wrap(voxerr.KindDecodeError, "failed to encode outbound frame", err)
	}
	return m.transport.Send(ctx, encoded)
}

// SendWithAck registers the request with the tracker before encoding, then
// sends it and waits for either a matching acknowledgment or timeout. A
// non-positive timeout falls back to DefaultAckTimeout.
func (m *Manager) SendWithAck(ctx context.Context, event wire.Message, timeout time.Duration) (wire.Message, error) {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	event.EventID = wire.NewEventID()
	if event.SessionID == "" {
		event.SessionID = m.SessionID()
	}

	future := m.tracker.Track(event.EventID, event.EventType, timeout)

	encoded, err := wire.Encode(event)
	if err != nil {
		m.tracker.Cancel(event.EventID)
		return wire.Message{}, voxerr.Wrap(voxerr.KindDecodeError, "failed to encode outbound frame", err)
	}

	if err := m.transport.Send(ctx, encoded); err != nil {
		m.tracker.Cancel(event.EventID)
		return wire.Message{}, err
	}

	return future.Wait(ctx)
}

// RegisterHandler installs h as the handler for eventType on the Manager's
// registry. Per §5, the registry is owned by the Manager; external
// components reach it only through this method rather than holding their
// own reference.
func (m *Manager) RegisterHandler(eventType string, h handler.Handler) {
	m.registry.Register(eventType, h)
}

// RegisterErrorHandler installs h as the error handler for baseEventType.
func (m *Manager) RegisterErrorHandler(baseEventType string, h handler.Handler) {
	m.registry.RegisterError(baseEventType, h)
}

// Disconnect closes the transport and clears the tracker, dropping the
// latched session id, per §4.6's teardown contract.
func (m *Manager) Disconnect(clear bool) error {
	m.mu.Lock()
	m.sessionID = ""
	m.mu.Unlock()

	m.tracker.Clear()
	return m.transport.Disconnect(clear)
}

// Close releases the Manager's subscriptions to the transport. It does not
// close the transport itself; callers that own the transport's lifecycle
// call transport.Client.Close separately.
func (m *Manager) Close() {
	if m.unsubState != nil {
		m.unsubState()
	}
	if m.unsubData != nil {
		m.unsubData()
	}
}

// NewEventType builds a wire.Message shell for Send/SendWithAck callers
// that only need to set EventType and Payload.
func NewEventType(eventType string, payload wire.Payload) wire.Message {
	return wire.Message{EventType: eventType, Payload: payload}
}
