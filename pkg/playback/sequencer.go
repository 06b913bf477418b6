// Package playback implements the playback sequencer component: a
// gap-free, single-utterance-at-a-time audio scheduler fed PCM16LE chunks
// as they arrive from the server.
//
// The "spawn a processing task on empty-to-non-empty transition,
// re-entrant calls return immediately" scheduling discipline and the
// single mutex-guarded struct shape follow the same idiom as
// pkg/tracker and internal/resilience's circuit breaker: one struct, one
// lock, explicit state fields, no hidden goroutine sprawl.
package playback

import (
	"container/heap"
	"log/slog"
	"math"
	"sync"

	"github.com/nullwave/voxcore/pkg/voxerr"
)

// minSampleRate and maxSampleRate bound the sample rates the sequencer
// will accept, per §4.8's validation rule.
const (
	minSampleRate = 1
	maxSampleRate = 192000
)

// Sequencer is the Playback Sequencer described in §4.8.
type Sequencer struct {
	sink Sink
	log  *slog.Logger

	mu              sync.Mutex
	queue           chunkHeap
	nextSeq         uint64
	activeUtterance string
	hasActive       bool
	processing      bool
	inFlight        PlaybackHandle
}

// New creates a Sequencer that schedules decoded audio onto sink. The sink
// is acquired lazily: no Sink method is called until the first chunk is
// played.
func New(sink Sink, log *slog.Logger) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{sink: sink, log: log}
}

// PlayChunk enqueues one PCM16LE chunk for utteranceID. If utteranceID
// differs from the currently active utterance, Stop runs first, per
// §4.8's preemption invariant.
func (s *Sequencer) PlayChunk(audioBytes []byte, sampleRate int, utteranceID string) error {
	aligned := alignAndCopy(audioBytes, s.log)
	if len(aligned) == 0 {
		return voxerr.New(voxerr.KindInvalidAudioPayload, "empty audio chunk")
	}
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return voxerr.New(voxerr.KindInvalidSampleRate, "sample rate out of range")
	}

	s.mu.Lock()
	if !s.hasActive || s.activeUtterance != utteranceID {
		s.stopLocked()
		s.activeUtterance = utteranceID
		s.hasActive = true
	}

	c := &chunk{
		utteranceID: utteranceID,
		arrivalSeq:  s.nextSeq,
		data:        aligned,
		sampleRate:  sampleRate,
	}
	s.nextSeq++
	heap.Push(&s.queue, c)

	spawn := !s.processing
	if spawn {
		s.processing = true
	}
	s.mu.Unlock()

	if spawn {
		go s.runLoop()
	}
	return nil
}

// Stop cancels in-flight playback, empties the queue, and clears the
// active utterance. It is synchronous and idempotent.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

// stopLocked must be called with mu held.
func (s *Sequencer) stopLocked() {
	if s.inFlight != nil {
		s.inFlight.Cancel()
		s.inFlight = nil
	}
	s.queue = nil
	s.activeUtterance = ""
	s.hasActive = false
}

// Destroy stops playback and empties the queue, the same as Stop; the Sink
// interface has no method for releasing the output device, so nothing
// further is released. After Destroy, the Sequencer must not be used again.
func (s *Sequencer) Destroy() {
	s.Stop()
}

func (s *Sequencer) runLoop() {
	for {
		s.mu.Lock()
		if s.queue.Len() == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}
		c := heap.Pop(&s.queue).(*chunk)
		activeMatches := s.hasActive && s.activeUtterance == c.utteranceID
		s.mu.Unlock()

		if !activeMatches {
			continue
		}

		samples := decodePCM16LEToFloat(c.data)
		if !allFinite(samples) {
			s.log.Warn("dropping chunk with non-finite samples", "utterance_id", c.utteranceID)
			continue
		}

		handle, err := s.play(samples, c.sampleRate)
		if err != nil {
			s.log.Warn("sink rejected chunk, dropping", "error", err, "utterance_id", c.utteranceID)
			continue
		}

		s.mu.Lock()
		// Another Stop/PlayChunk may have run while we were decoding; if
		// the active utterance moved on, abandon this handle immediately.
		if !(s.hasActive && s.activeUtterance == c.utteranceID) {
			s.mu.Unlock()
			handle.Cancel()
			continue
		}
		s.inFlight = handle
		s.mu.Unlock()

		<-handle.Done()

		s.mu.Lock()
		if s.inFlight == handle {
			s.inFlight = nil
		}
		s.mu.Unlock()
	}
}

func (s *Sequencer) play(samples []float32, sampleRate int) (PlaybackHandle, error) {
	if err := s.ensureSinkReady(); err != nil {
		return nil, err
	}
	return s.sink.Play(samples, sampleRate)
}

func (s *Sequencer) ensureSinkReady() error {
	switch s.sink.State() {
	case SinkSuspended:
		return s.sink.Resume()
	case SinkClosed:
		// A real Sink implementation recreates its underlying output
		// context transparently on the next Play call when closed; this
		// hook exists so one can be swapped in without touching the
		// sequencer.
		return nil
	default:
		return nil
	}
}

// alignAndCopy materializes a contiguous, independently-owned copy of
// audioBytes starting at offset 0 (defending against a sliced buffer view
// that may alias a reused receive buffer), dropping a trailing odd byte
// with a warning.
func alignAndCopy(audioBytes []byte, log *slog.Logger) []byte {
	n := len(audioBytes)
	if n%2 != 0 {
		log.Warn("dropping trailing odd byte from audio chunk", "length", n)
		n--
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, audioBytes[:n])
	return out
}

func decodePCM16LEToFloat(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		samples[i] = float32(v) / 32768
	}
	return samples
}

func allFinite(samples []float32) bool {
	for _, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
