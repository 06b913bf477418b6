// Package capture implements the capture pipeline component: a
// format-level adapter that pulls mono float samples from an injectable
// audio source, quantizes them to PCM16LE, and hands fixed-size frames to
// a caller-supplied handler.
//
// Real microphone access is inherently platform code with no counterpart
// in the example corpus (the teacher's audio packages consume Discord's
// own voice stream rather than a local device). This package therefore
// stays at the same interface level as the protocol spec: [Source] is the
// seam a platform-specific microphone adapter plugs into, and
// pkg/capture/mock provides one for tests, matching the teacher's
// per-provider mock package convention (pkg/provider/s2s/mock).
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nullwave/voxcore/pkg/voxerr"
)

// DefaultBufferSamples is the capture-buffer-samples default from §6.
const DefaultBufferSamples = 4096

// Frame is one fixed-count block of PCM16LE mono audio delivered to a
// capture handler.
type Frame struct {
	Data       []byte
	SampleRate int

	// IsMuted reports whether the microphone was muted at capture time, for
	// the required audio.chunk {audio, isMuted} payload (spec §6). Data is
	// still delivered while muted; callers that want silence suppressed
	// entirely must drop the frame themselves.
	IsMuted bool
}

// FrameHandler receives captured frames. A returned error is logged and
// the frame is dropped; it does not stop capture. A panic is recovered and
// treated the same way.
type FrameHandler func(Frame) error

// Source produces mono float32 samples in [-1.0, +1.0] at its own native
// rate, honoring whatever sample-rate hint and capability set (echo
// cancellation, noise suppression, auto gain) its OpenFunc was given.
type Source interface {
	SampleRate() int
	// Read fills buf with up to len(buf) samples and returns how many were
	// read. Read blocks until data is available or the source closes.
	Read(buf []float32) (int, error)
	Close() error
}

// OpenFunc acquires a Source for requestedRate. Implementations report
// permission-denied or no-device failures as *voxerr.Error so Pipeline can
// surface them unchanged.
type OpenFunc func(requestedRate int) (Source, error)

// Pipeline is the Capture implementation described in §4.7.
type Pipeline struct {
	open          OpenFunc
	bufferSamples int
	log           *slog.Logger

	mu      sync.Mutex
	running bool
	src     Source
	stopCh  chan struct{}
	wg      sync.WaitGroup

	muted atomic.Bool
}

// New creates a Pipeline. bufferSamples <= 0 falls back to
// DefaultBufferSamples.
func New(open OpenFunc, bufferSamples int, log *slog.Logger) *Pipeline {
	if bufferSamples <= 0 {
		bufferSamples = DefaultBufferSamples
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{open: open, bufferSamples: bufferSamples, log: log}
}

// Start acquires the capture source and begins delivering frames to
// onFrame, returning the device's actual sample rate (which may differ
// from requestedRate).
func (p *Pipeline) Start(onFrame FrameHandler, requestedRate int) (int, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return 0, voxerr.New(voxerr.KindAlreadyCapturing, "capture already started")
	}

	src, err := p.open(requestedRate)
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}

	actualRate := src.SampleRate()
	p.src = src
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(src, actualRate, stopCh, onFrame)

	return actualRate, nil
}

// SetMuted sets the mute state reported on every subsequently captured
// Frame's IsMuted field. It may be called at any time, whether or not
// capture is running.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// Stop halts capture and releases the source. It is idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	src := p.src
	p.mu.Unlock()

	p.wg.Wait()
	if src != nil {
		return src.Close()
	}
	return nil
}

func (p *Pipeline) run(src Source, sampleRate int, stopCh chan struct{}, onFrame FrameHandler) {
	defer p.wg.Done()

	buf := make([]float32, p.bufferSamples)
	firstFrame := true

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := src.Read(buf)
		if err != nil {
			p.log.Warn("capture source read failed, stopping", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		samples := buf[:n]
		if firstFrame {
			level := rms(samples)
			p.log.Info("capture started", "sample_rate", sampleRate, "rms", level, "likely_silent", level < silenceThreshold)
			firstFrame = false
		}

		frame := Frame{Data: quantizeMono(samples), SampleRate: sampleRate, IsMuted: p.Muted()}
		p.deliver(onFrame, frame)
	}
}

func (p *Pipeline) deliver(onFrame FrameHandler, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("capture frame handler panicked, dropping frame", "panic", r)
		}
	}()
	if err := onFrame(frame); err != nil {
		p.log.Warn("capture frame handler rejected frame, dropping", "error", err)
	}
}
