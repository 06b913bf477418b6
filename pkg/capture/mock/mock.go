// Package mock provides an in-memory capture.Source for tests, following
// the teacher's per-provider mock package convention
// (pkg/provider/s2s/mock).
package mock

import (
	"io"
	"sync"

	"github.com/nullwave/voxcore/pkg/capture"
	"github.com/nullwave/voxcore/pkg/voxerr"
)

// Source is a scriptable capture.Source: tests push sample batches with
// Feed and read them back out through Read in order.
type Source struct {
	rate int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]float32
	closed bool
}

// NewSource creates a Source reporting the given sample rate.
func NewSource(sampleRate int) *Source {
	s := &Source{rate: sampleRate}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SampleRate implements capture.Source.
func (s *Source) SampleRate() int { return s.rate }

// Feed enqueues one batch of samples to be returned by a future Read call.
func (s *Source) Feed(samples []float32) {
	s.mu.Lock()
	s.queue = append(s.queue, samples)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Read implements capture.Source, blocking until a batch is available or
// the source is closed.
func (s *Source) Read(buf []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 && s.closed {
		return 0, io.EOF
	}

	batch := s.queue[0]
	s.queue = s.queue[1:]
	n := copy(buf, batch)
	return n, nil
}

// Close implements capture.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// OpenDenied is a capture.OpenFunc that always fails with permission-denied,
// for exercising Pipeline's failure path.
func OpenDenied(requestedRate int) (capture.Source, error) {
	return nil, voxerr.New(voxerr.KindPermissionDenied, "mock source: permission denied")
}

// OpenNoDevice is a capture.OpenFunc that always fails with no-device.
func OpenNoDevice(requestedRate int) (capture.Source, error) {
	return nil, voxerr.New(voxerr.KindNoDevice, "mock source: no device available")
}
