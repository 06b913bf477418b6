package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nullwave/voxcore/pkg/voxerr"
	"github.com/nullwave/voxcore/pkg/wire"
)

func newTestTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	tr := New(cfg)
	t.Cleanup(tr.Close)
	return tr
}

func TestMatchSettlesFuture(t *testing.T) {
	tr := newTestTracker(t, Config{SweepInterval: time.Hour})
	id := uuid.New()
	fut := tr.Track(id, "client.audio.start", time.Minute)

	ack := wire.Message{EventType: "client.audio.start.ack", EventID: id, Payload: wire.Payload{Success: wire.BoolPtr(true)}}
	if !tr.Match(id, ack) {
		t.Fatal("Match returned false for a tracked event id")
	}

	select {
	case <-fut.Done():
	default:
		t.Fatal("future not settled immediately after Match")
	}

	got, err := fut.Result()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EventType != ack.EventType {
		t.Errorf("got %q, want %q", got.EventType, ack.EventType)
	}
	if tr.Len() != 0 {
		t.Errorf("tracker size = %d, want 0 after settlement", tr.Len())
	}
}

func TestMatchUnknownEventIDReturnsFalse(t *testing.T) {
	tr := newTestTracker(t, Config{SweepInterval: time.Hour})
	if tr.Match(uuid.New(), wire.Message{}) {
		t.Fatal("Match returned true for an untracked event id")
	}
}

func TestTrackTimeout(t *testing.T) {
	tr := newTestTracker(t, Config{SweepInterval: time.Hour})
	id := uuid.New()
	before := tr.Len()
	fut := tr.Track(id, "client.audio.start", 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	if !voxerr.Is(err, voxerr.KindRequestTimeout) {
		t.Fatalf("err = %v, want request-timeout", err)
	}
	if tr.Len() != before {
		t.Errorf("tracker size = %d, want %d after timeout settles", tr.Len(), before)
	}
}

func TestDuplicateEventIDBothSettle(t *testing.T) {
	tr := newTestTracker(t, Config{SweepInterval: time.Hour})
	id := uuid.New()
	fut1 := tr.Track(id, "client.audio.start", time.Minute)
	fut2 := tr.Track(id, "client.audio.start", time.Minute)

	ack := wire.Message{EventType: "client.audio.start.ack", EventID: id, Payload: wire.Payload{Success: wire.BoolPtr(true)}}
	tr.Match(id, ack)

	for i, fut := range []*Future{fut1, fut2} {
		select {
		case <-fut.Done():
		default:
			t.Fatalf("future %d not settled", i)
		}
		if _, err := fut.Result(); err != nil {
			t.Errorf("future %d: unexpected error %v", i, err)
		}
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	tr := newTestTracker(t, Config{Capacity: 2, SweepInterval: time.Hour})

	id1, id2, id3 := uuid.New(), uuid.New(), uuid.New()
	fut1 := tr.Track(id1, "a", time.Minute)
	tr.Track(id2, "b", time.Minute)
	tr.Track(id3, "c", time.Minute)

	select {
	case <-fut1.Done():
	default:
		t.Fatal("oldest entry should have been evicted")
	}
	_, err := fut1.Result()
	if !voxerr.Is(err, voxerr.KindTrackerLimit) {
		t.Fatalf("err = %v, want tracker-limit", err)
	}
	if tr.Len() != 2 {
		t.Errorf("tracker size = %d, want 2", tr.Len())
	}
}

func TestClearRejectsAllPending(t *testing.T) {
	tr := newTestTracker(t, Config{SweepInterval: time.Hour})
	fut := tr.Track(uuid.New(), "a", time.Minute)

	tr.Clear()

	_, err := fut.Result()
	if !voxerr.Is(err, voxerr.KindTrackerCleared) {
		t.Fatalf("err = %v, want tracker-cleared", err)
	}
	if tr.Len() != 0 {
		t.Errorf("tracker size = %d, want 0", tr.Len())
	}
}

func TestSweepRejectsStaleEntry(t *testing.T) {
	tr := New(Config{SweepInterval: 20 * time.Millisecond})
	defer tr.Close()

	id := uuid.New()
	fut := tr.Track(id, "a", 10*time.Millisecond)
	// The per-entry timer would normally fire first; simulate a lost timer
	// by waiting long enough that either the timer or the sweep settles it,
	// and assert the outcome is a rejection either way.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	if err == nil {
		t.Fatal("want an error from either timeout or sweep")
	}
}

func TestSettlementIsTerminal(t *testing.T) {
	tr := newTestTracker(t, Config{SweepInterval: time.Hour})
	id := uuid.New()
	fut := tr.Track(id, "a", time.Minute)

	ack := wire.Message{EventType: "a.ack", EventID: id, Payload: wire.Payload{Success: wire.BoolPtr(true)}}
	tr.Match(id, ack)
	tr.Match(id, ack) // second match: no-op, must not panic or re-settle

	got, err := fut.Result()
	if err != nil || got.EventType != "a.ack" {
		t.Errorf("result changed after second Match: got=%v err=%v", got, err)
	}
}
