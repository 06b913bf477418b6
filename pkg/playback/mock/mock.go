// Package mock provides an in-memory playback.Sink for tests, following
// the teacher's per-provider mock package convention.
package mock

import (
	"sync"

	"github.com/nullwave/voxcore/pkg/playback"
)

// Call records one Play invocation.
type Call struct {
	Samples    []float32
	SampleRate int
	Handle     *Handle
}

// Handle is a cancellable, manually-completable playback.PlaybackHandle.
type Handle struct {
	done chan struct{}
	once sync.Once
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done implements playback.PlaybackHandle.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel implements playback.PlaybackHandle. Safe to call more than once
// and after Complete.
func (h *Handle) Cancel() { h.once.Do(func() { close(h.done) }) }

// Complete marks playback as finished naturally. Safe to call more than
// once and after Cancel.
func (h *Handle) Complete() { h.once.Do(func() { close(h.done) }) }

// Sink is a scriptable playback.Sink. By default Play completes
// immediately (AutoComplete); set AutoComplete to false and drive
// completion manually via the returned *Handle for tests that need to
// observe in-flight state.
type Sink struct {
	AutoComplete bool

	mu    sync.Mutex
	state playback.SinkState
	calls []Call
}

// NewSink creates a Sink in the running state.
func NewSink(autoComplete bool) *Sink {
	return &Sink{AutoComplete: autoComplete, state: playback.SinkRunning}
}

// State implements playback.Sink.
func (s *Sink) State() playback.SinkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState lets tests force a particular lifecycle state (e.g. suspended)
// before exercising ensureSinkReady.
func (s *Sink) SetState(state playback.SinkState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Resume implements playback.Sink.
func (s *Sink) Resume() error {
	s.mu.Lock()
	s.state = playback.SinkRunning
	s.mu.Unlock()
	return nil
}

// Play implements playback.Sink.
func (s *Sink) Play(samples []float32, sampleRate int) (playback.PlaybackHandle, error) {
	h := newHandle()

	s.mu.Lock()
	s.calls = append(s.calls, Call{Samples: samples, SampleRate: sampleRate, Handle: h})
	auto := s.AutoComplete
	s.mu.Unlock()

	if auto {
		h.Complete()
	}
	return h, nil
}

// Calls returns a snapshot of every Play call observed so far.
func (s *Sink) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}
