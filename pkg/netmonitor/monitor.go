// Package netmonitor implements the network-status monitor component: a
// single debounced online/offline observable that the transport client
// consults before reconnecting.
//
// The polling shape — a ticker-driven background goroutine stoppable via a
// done channel, guarded by one mutex — is grounded on internal/config's
// file Watcher. Subscriber bookkeeping is delegated to a [bus.Topic] rather
// than reimplemented, since the two have identical synchronous,
// subscribe-ordered delivery semantics.
package netmonitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nullwave/voxcore/pkg/bus"
)

// DefaultPollInterval is how often the monitor probes connectivity.
const DefaultPollInterval = 2 * time.Second

// DefaultDebounce is the minimum duration a probed state must hold before
// it is reported as a transition, per §4.2.
const DefaultDebounce = 500 * time.Millisecond

// Prober reports the platform's current raw connectivity signal. Probe may
// be called frequently and must not block; implementations backed by an OS
// API should cache aggressively.
type Prober interface {
	Probe() bool
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func() bool

// Probe implements Prober.
func (f ProberFunc) Probe() bool { return f() }

// alwaysOnline is used when no Prober is supplied: §4.2 requires assuming
// online when no platform signal is available.
type alwaysOnline struct{}

func (alwaysOnline) Probe() bool { return true }

// Config configures a Monitor. Zero values fall back to package defaults.
type Config struct {
	Prober       Prober
	PollInterval time.Duration
	Debounce     time.Duration
	Logger       *slog.Logger
}

// Monitor tracks a single debounced online/offline observable.
type Monitor struct {
	prober   Prober
	interval time.Duration
	debounce time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	online   bool
	pending  bool
	timer    *time.Timer
	started  bool

	topic *bus.Topic[bool]

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Monitor, assumed online until the first probe says
// otherwise, and starts its background polling goroutine.
func New(cfg Config) *Monitor {
	prober := cfg.Prober
	if prober == nil {
		prober = alwaysOnline{}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Monitor{
		prober:   prober,
		interval: interval,
		debounce: debounce,
		log:      log,
		online:   true,
		topic:    bus.NewTopic[bool]("network_online", log),
		done:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.pollLoop()

	return m
}

// Online reports the current debounced connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn to be called, synchronously and in subscribe
// order, every time the debounced state transitions. It is not called with
// the current state at subscribe time; callers that need the current value
// should call Online first.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	return m.topic.Subscribe(fn)
}

// Close stops the background polling goroutine.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			m.mu.Lock()
			if m.timer != nil {
				m.timer.Stop()
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check reads the raw probe and feeds it into the debounce state machine.
// A raw value equal to the current stable state cancels any pending
// transition timer. A raw value that differs (re)starts a debounce timer;
// only once that timer fires without the raw value reverting does the
// monitor commit the transition and notify subscribers.
func (m *Monitor) check() {
	raw := m.prober.Probe()

	m.mu.Lock()
	if raw == m.online {
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.mu.Unlock()
		return
	}

	m.pending = raw
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, m.commit)
	m.mu.Unlock()
}

func (m *Monitor) commit() {
	m.mu.Lock()
	newState := m.pending
	if newState == m.online {
		m.mu.Unlock()
		return
	}
	m.online = newState
	m.timer = nil
	m.mu.Unlock()

	m.log.Info("network status changed", "online", newState)
	m.topic.Publish(newState)
}
