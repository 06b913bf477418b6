// Package transport implements the transport client component: a single
// outbound binary-framed stream with a fixed-schedule reconnect policy, a
// latent-send waiter queue, and liveness-checked connection health.
//
// The reconnect state machine and its mutex-guarded struct shape are
// grounded on internal/session's Reconnector, generalized from a doubling
// backoff to the spec's fixed 2s/5s/10s.../6-attempt schedule. The
// read-loop / receive-channel shape is grounded on
// pkg/provider/s2s/openai's WebSocket session.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nullwave/voxcore/pkg/bus"
	"github.com/nullwave/voxcore/pkg/voxerr"
)

// DefaultConnectTimeout is §4.1's connection-timeout default.
const DefaultConnectTimeout = 30 * time.Second

// DefaultMaxReconnectAttempts is §4.1's max-reconnect-attempts default.
const DefaultMaxReconnectAttempts = 6

// DefaultLivenessInterval is §4.1's liveness-interval default.
const DefaultLivenessInterval = 30 * time.Second

// DefaultSendWaitTimeout is the connection waiter timeout a latent send
// registers against, per §4.1.
const DefaultSendWaitTimeout = 30 * time.Second

// DefaultReconnectDelays is §4.1's fixed reconnect schedule: 2s, 5s, then
// 10s for every attempt after.
var DefaultReconnectDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// Monitor reports current network reachability and pushes transition
// notifications. *netmonitor.Monitor satisfies this.
type Monitor interface {
	Online() bool
	// Subscribe registers fn to be called on every online/offline
	// transition, per §4.2's "may resume reconnect scheduling" push
	// requirement.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

type alwaysOnlineMonitor struct{}

func (alwaysOnlineMonitor) Online() bool { return true }

// Subscribe never fires: an always-online monitor has no transitions to
// report.
func (alwaysOnlineMonitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	return func() {}
}

// Config configures a Client. Zero values fall back to package defaults.
type Config struct {
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectDelays      []time.Duration
	LivenessInterval     time.Duration
	SendWaitTimeout      time.Duration
	Monitor              Monitor
	Logger               *slog.Logger

	dial dialFunc // overridden in tests; defaults to defaultDial
}

// Client owns exactly one outbound binary stream at a time. See the
// package doc and §4.1 for the full state machine and failure semantics.
type Client struct {
	cfg Config
	log *slog.Logger

	mu                sync.Mutex
	state             State
	url               string
	clearedByUser     bool
	reconnectDisabled bool
	conn              wsConn
	generation        uint64
	attempt           int
	reconnectTimer    *time.Timer
	waiters           []chan State

	writeMu sync.Mutex

	stateTopic *bus.Topic[State]
	dataTopic  *bus.Topic[[]byte]

	closed   bool
	closeMu  sync.Once
	wg       sync.WaitGroup

	// connectOnce collapses concurrent Connect calls into a single dial, so
	// a caller racing a retry against itself never opens two connections.
	connectOnce singleflight.Group

	// monitorUnsub releases this client's netmonitor subscription on Close.
	monitorUnsub func()
}

// NewClient creates a Client in the disconnected state.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if len(cfg.ReconnectDelays) == 0 {
		cfg.ReconnectDelays = DefaultReconnectDelays
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = DefaultLivenessInterval
	}
	if cfg.SendWaitTimeout <= 0 {
		cfg.SendWaitTimeout = DefaultSendWaitTimeout
	}
	if cfg.Monitor == nil {
		cfg.Monitor = alwaysOnlineMonitor{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.dial == nil {
		cfg.dial = defaultDial
	}

	c := &Client{
		cfg:        cfg,
		log:        cfg.Logger,
		state:      StateDisconnected,
		stateTopic: bus.NewTopic[State]("transport_state", cfg.Logger),
		dataTopic:  bus.NewTopic[[]byte]("transport_data", cfg.Logger),
	}
	c.monitorUnsub = cfg.Monitor.Subscribe(c.onNetworkOnline)
	return c
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange subscribes to connection state transitions.
func (c *Client) OnStateChange(fn func(State)) (unsubscribe func()) {
	return c.stateTopic.Subscribe(fn)
}

// OnData subscribes to decoded binary frames received from the peer.
func (c *Client) OnData(fn func([]byte)) (unsubscribe func()) {
	return c.dataTopic.Subscribe(fn)
}

// Connect opens url. It fails fast with network-unavailable if the
// monitor reports offline, and with connection-timeout or
// network-unavailable if the dial itself fails. Concurrent Connect calls
// share a single in-flight dial rather than racing two connections.
func (c *Client) Connect(ctx context.Context, url string) error {
	_, err, _ := c.connectOnce.Do("connect", func() (any, error) {
		return nil, c.dialAndTransition(ctx, url)
	})
	return err
}

func (c *Client) dialAndTransition(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return voxerr.New(voxerr.KindNotConnected, "client is closed")
	}
	c.url = url
	c.clearedByUser = false
	c.reconnectDisabled = false
	c.attempt = 0
	waiters, changed := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	c.announce(StateConnecting, changed, waiters)

	return c.dial(ctx, url)
}

// dial performs a connection attempt and, on failure, moves the client
// straight to the error state. It is used by Connect and by the
// latent-send path, where a single failed attempt is indeed terminal.
// The reconnect loop uses rawDial directly instead, since a single failed
// reconnect attempt should return to reconnecting rather than error.
func (c *Client) dial(ctx context.Context, url string) error {
	conn, err := c.rawDial(ctx, url)
	if err != nil {
		c.setState(StateError)
		return err
	}
	c.connectSucceeded(conn)
	return nil
}

// rawDial performs the network-level connection attempt only, without any
// state machine side effects.
func (c *Client) rawDial(ctx context.Context, url string) (wsConn, error) {
	if !c.cfg.Monitor.Online() {
		return nil, voxerr.New(voxerr.KindNetworkUnavailable, "network monitor reports offline")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.dial(dialCtx, url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, voxerr.Wrap(voxerr.KindConnectionTimeout, "dial timed out", err)
		}
		return nil, voxerr.Wrap(voxerr.KindNetworkUnavailable, "dial failed", err)
	}
	return conn, nil
}

// connectSucceeded installs conn as the active connection, transitions to
// connected, and starts the read and liveness loops for the new
// generation.
func (c *Client) connectSucceeded(conn wsConn) {
	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	c.generation++
	gen := c.generation
	waiters, changed := c.transitionLocked(StateConnected)
	c.mu.Unlock()
	c.announce(StateConnected, changed, waiters)

	c.wg.Add(2)
	go c.readLoop(gen, conn)
	go c.livenessLoop(gen, conn)
}

// Disconnect closes the current connection and stops any scheduled
// reconnect. If clear is true, the remembered url is forgotten and
// subsequent latent sends cannot trigger a reconnect until Connect is
// called again.
func (c *Client) Disconnect(clear bool) error {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectDisabled = true
	conn := c.conn
	c.conn = nil
	c.generation++
	if clear {
		c.clearedByUser = true
		c.url = ""
	}
	waiters, changed := c.transitionLocked(StateDisconnected)
	c.mu.Unlock()
	c.announce(StateDisconnected, changed, waiters)

	if conn != nil {
		return conn.Close(CloseNormal, "client disconnect")
	}
	return nil
}

// Close permanently shuts down the client, releasing background
// goroutines. It is equivalent to Disconnect(true) followed by marking the
// client unusable for further Connect calls.
func (c *Client) Close() {
	c.closeMu.Do(func() {
		if c.monitorUnsub != nil {
			c.monitorUnsub()
		}
		_ = c.Disconnect(true)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
	c.wg.Wait()
}

// Send writes data as one binary frame. If not currently connected, Send
// triggers a connection attempt (when eligible) and waits up to
// SendWaitTimeout for it to resolve before writing, per §4.1's latent-send
// queue.
func (c *Client) Send(ctx context.Context, data []byte) error {
	if err := c.awaitConnected(ctx); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return voxerr.New(voxerr.KindNotConnected, "connection lost before send could complete")
	}

	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, frameBinary, data); err != nil {
		return voxerr.Wrap(voxerr.KindSendFailed, "write failed", err)
	}
	return nil
}

// awaitConnected blocks until the client is connected, or returns an error
// once it becomes clear that will not happen soon (no remembered url,
// offline, or the wait times out).
func (c *Client) awaitConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.clearedByUser || c.url == "" {
		c.mu.Unlock()
		return voxerr.New(voxerr.KindNotConnected, "not connected and no remembered url")
	}

	ch := make(chan State, 1)
	c.waiters = append(c.waiters, ch)
	needsConnect := c.state == StateDisconnected
	url := c.url
	c.mu.Unlock()

	if needsConnect {
		if !c.cfg.Monitor.Online() {
			c.removeWaiter(ch)
			return voxerr.New(voxerr.KindNetworkUnavailable, "network monitor reports offline")
		}
		go func() { _ = c.dial(context.Background(), url) }()
	}

	timer := time.NewTimer(c.cfg.SendWaitTimeout)
	defer timer.Stop()

	select {
	case st := <-ch:
		if st == StateConnected {
			return nil
		}
		return voxerr.New(voxerr.KindNotConnected, "connection attempt did not succeed before send")
	case <-timer.C:
		c.removeWaiter(ch)
		return voxerr.New(voxerr.KindNotConnected, "timed out waiting for connection")
	case <-ctx.Done():
		c.removeWaiter(ch)
		return ctx.Err()
	}
}

func (c *Client) removeWaiter(target chan State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ch := range c.waiters {
		if ch == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// transitionLocked must be called with mu held. It updates state and
// detaches any pending send waiters that should settle because of this
// transition (connected, or a failure state with no further automatic
// recovery in flight). The caller is responsible for publishing the
// transition and resolving the returned waiters after releasing mu — never
// while holding it, since both a bus subscriber and a waiter's receiver may
// call back into the Client.
func (c *Client) transitionLocked(s State) (waiters []chan State, changed bool) {
	if c.state == s {
		return nil, false
	}
	c.state = s

	if s == StateConnected || s == StateError || s == StateDisconnected {
		waiters = c.waiters
		c.waiters = nil
	}
	return waiters, true
}

// setState acquires mu, performs the transition, then publishes it and
// resolves any waiters outside the lock.
func (c *Client) setState(s State) {
	c.mu.Lock()
	waiters, changed := c.transitionLocked(s)
	c.mu.Unlock()
	c.announce(s, changed, waiters)
}

func (c *Client) announce(s State, changed bool, waiters []chan State) {
	if changed {
		c.stateTopic.Publish(s)
	}
	for _, ch := range waiters {
		ch <- s
	}
}

func (c *Client) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}
