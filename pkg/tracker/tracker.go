// Package tracker implements the request tracker component: correlating
// outbound requests with their acknowledgments by event id, with bounded
// capacity, per-entry timeouts, and a periodic sweep that catches entries
// whose timer firing was somehow lost.
//
// The design mirrors internal/resilience's circuit breaker — a single
// mutex-guarded struct holding explicit per-entry state — plus a
// background time.Ticker sweep loop shaped like internal/config's file
// watcher. Oldest-entry eviction is realized with container/list rather
// than an external LRU package: at the default 100-entry capacity a plain
// linked list is the right tool.
package tracker

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nullwave/voxcore/pkg/voxerr"
	"github.com/nullwave/voxcore/pkg/wire"
)

// DefaultCapacity is the maximum number of pending entries per §4.5.
const DefaultCapacity = 100

// DefaultSweepInterval is how often the background sweep runs per §4.5.
const DefaultSweepInterval = 60 * time.Second

// Future settles exactly once, either with the acknowledgment message that
// matched it or with an error (timeout, eviction, or teardown).
type Future struct {
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	msg wire.Message
	err error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done returns a channel that closes once the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the settled message and error. Calling Result before Done
// closes returns the zero Message and a nil error, which a caller should
// never observe if it waits on Done first.
func (f *Future) Result() (wire.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msg, f.err
}

// Wait blocks until the future settles or ctx is done, whichever comes
// first. A ctx cancellation does not settle the future itself — the entry
// remains tracked until it times out, is matched, or is swept.
func (f *Future) Wait(ctx context.Context) (wire.Message, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

func (f *Future) settle(msg wire.Message, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.msg, f.err = msg, err
		f.mu.Unlock()
		close(f.done)
	})
}

type entry struct {
	eventID     uuid.UUID
	eventType   string
	submittedAt time.Time
	timeout     time.Duration
	timer       *time.Timer
	future      *Future
	el          *list.Element // this entry's node in Tracker.order
}

// Config configures a Tracker. Zero values fall back to the package
// defaults.
type Config struct {
	Capacity      int
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// Tracker correlates outbound requests with their acknowledgments. See the
// package doc and §4.5 for the full behavioral contract.
type Tracker struct {
	mu       sync.Mutex
	byEvent  map[uuid.UUID][]*entry
	order    *list.List // oldest at Front, newest at Back
	capacity int
	log      *slog.Logger

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// New creates a Tracker and starts its background sweep goroutine. Callers
// must call Close to stop the sweep and settle any remaining entries.
func New(cfg Config) *Tracker {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	t := &Tracker{
		byEvent:       make(map[uuid.UUID][]*entry),
		order:         list.New(),
		capacity:      capacity,
		log:           log,
		sweepInterval: sweep,
		stop:          make(chan struct{}),
	}

	t.wg.Add(1)
	go t.sweepLoop()

	return t
}

// Track registers a pending request keyed by eventID with its own timeout,
// returning a future that settles on a matching Match call, on timeout, on
// eviction, or on Clear/Close. Tracking an eventID that is already tracked
// does not disturb the existing entry: both futures settle together the
// next time that eventID is matched, cancelled, or cleared; timeout and
// capacity eviction settle each entry on its own.
func (t *Tracker) Track(eventID uuid.UUID, eventType string, timeout time.Duration) *Future {
	t.mu.Lock()

	e := &entry{
		eventID:     eventID,
		eventType:   eventType,
		submittedAt: time.Now(),
		timeout:     timeout,
		future:      newFuture(),
	}
	e.el = t.order.PushBack(e)
	t.byEvent[eventID] = append(t.byEvent[eventID], e)

	e.timer = time.AfterFunc(timeout, func() { t.expire(e) })

	t.evictOverflowLocked()

	t.mu.Unlock()
	return e.future
}

// evictOverflowLocked must be called with mu held. It rejects the oldest
// entries with tracker-limit until the tracker is back within capacity.
func (t *Tracker) evictOverflowLocked() {
	for t.order.Len() > t.capacity {
		front := t.order.Front()
		e := front.Value.(*entry)
		t.removeLocked(e)
		t.log.Warn("tracker capacity exceeded, evicting oldest entry",
			"event_id", e.eventID, "event_type", e.eventType)
		e.future.settle(wire.Message{}, voxerr.New(voxerr.KindTrackerLimit, "pending request evicted: tracker at capacity"))
	}
}

// removeLocked detaches e from both indexes and stops its timer. It does
// not settle e's future; callers do that themselves with the appropriate
// outcome.
func (t *Tracker) removeLocked(e *entry) {
	e.timer.Stop()
	t.order.Remove(e.el)

	entries := t.byEvent[e.eventID]
	for i, candidate := range entries {
		if candidate == e {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(t.byEvent, e.eventID)
	} else {
		t.byEvent[e.eventID] = entries
	}
}

func (t *Tracker) expire(e *entry) {
	t.mu.Lock()
	if e.el == nil || e.el.Value == nil {
		t.mu.Unlock()
		return
	}
	// Confirm e is still tracked (it may have just settled via Match).
	if !t.isTrackedLocked(e) {
		t.mu.Unlock()
		return
	}
	t.removeLocked(e)
	t.mu.Unlock()

	e.future.settle(wire.Message{}, voxerr.New(voxerr.KindRequestTimeout, "no acknowledgment received before timeout"))
}

func (t *Tracker) isTrackedLocked(e *entry) bool {
	for _, candidate := range t.byEvent[e.eventID] {
		if candidate == e {
			return true
		}
	}
	return false
}

// Match settles every future tracked under msg's event id with msg and
// removes them, reporting whether any entry matched. Per §4.5, Match is
// the caller's job to invoke only once it has determined msg is an
// acknowledgment (IsAck); Match itself does not re-check that.
func (t *Tracker) Match(eventID uuid.UUID, msg wire.Message) bool {
	t.mu.Lock()
	entries := t.byEvent[eventID]
	if len(entries) == 0 {
		t.mu.Unlock()
		return false
	}
	// Copy before removing: removeLocked mutates the slice in place.
	matched := append([]*entry(nil), entries...)
	for _, e := range matched {
		t.removeLocked(e)
	}
	t.mu.Unlock()

	for _, e := range matched {
		e.future.settle(msg, nil)
	}
	return true
}

// Cancel removes every pending entry for eventID and settles each future
// with tracker-cleared. It is for callers that already know the outcome
// (such as a send that failed) and just want the bookkeeping cleaned up.
func (t *Tracker) Cancel(eventID uuid.UUID) {
	t.mu.Lock()
	entries := t.byEvent[eventID]
	if len(entries) == 0 {
		t.mu.Unlock()
		return
	}
	matched := append([]*entry(nil), entries...)
	for _, e := range matched {
		t.removeLocked(e)
	}
	t.mu.Unlock()

	for _, e := range matched {
		e.future.settle(wire.Message{}, voxerr.New(voxerr.KindTrackerCleared, "request cancelled"))
	}
}

// Clear rejects every pending entry with tracker-cleared and resets the
// tracker to empty. It does not stop the background sweep — use Close for
// full teardown.
func (t *Tracker) Clear() {
	t.mu.Lock()
	all := make([]*entry, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		all = append(all, el.Value.(*entry))
	}
	for _, e := range all {
		e.timer.Stop()
	}
	t.byEvent = make(map[uuid.UUID][]*entry)
	t.order = list.New()
	t.mu.Unlock()

	for _, e := range all {
		e.future.settle(wire.Message{}, voxerr.New(voxerr.KindTrackerCleared, "tracker cleared"))
	}
}

// Len reports the current number of pending entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Close stops the sweep loop and clears all pending entries.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
	t.Clear()
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweepOnce()
		}
	}
}

// sweepOnce rejects any entry older than 2x its own timeout. This is a
// backstop against a lost timer firing, not the primary timeout path.
func (t *Tracker) sweepOnce() {
	now := time.Now()

	t.mu.Lock()
	var stale []*entry
	for el := t.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.Sub(e.submittedAt) >= 2*e.timeout {
			t.removeLocked(e)
			stale = append(stale, e)
		}
		el = next
	}
	t.mu.Unlock()

	for _, e := range stale {
		t.log.Warn("sweep rejecting stale tracker entry",
			"event_id", e.eventID, "event_type", e.eventType, "age", now.Sub(e.submittedAt))
		e.future.settle(wire.Message{}, voxerr.New(voxerr.KindRequestTimeout, "request swept after exceeding 2x timeout"))
	}
}
