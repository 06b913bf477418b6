// Package orchestrator implements the orchestrator component: it
// coordinates a recording session end to end, wiring the capture
// pipeline's output into outbound audio frames and routing inbound
// response events into the playback sequencer.
//
// The start/stream/stop state shape mirrors internal/session's call
// lifecycle from the teacher repo (acquire resource, stream, guaranteed
// teardown on stop or loss), generalized to this protocol's
// audio.start/audio.chunk/audio.end exchange.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nullwave/voxcore/internal/observe"
	"github.com/nullwave/voxcore/internal/resilience"
	"github.com/nullwave/voxcore/pkg/bus"
	"github.com/nullwave/voxcore/pkg/capture"
	"github.com/nullwave/voxcore/pkg/handler"
	"github.com/nullwave/voxcore/pkg/voxerr"
	"github.com/nullwave/voxcore/pkg/wire"
)

// DefaultAudioStartTimeout is §4.10 step 3's send_with_ack timeout.
const DefaultAudioStartTimeout = 10 * time.Second

// DefaultResponseSampleRate is the fallback rate used for a
// response.chunk whose sample rate is out of range, per §4.10.
const DefaultResponseSampleRate = 16000

const (
	eventAudioStart = "audio.start"
	eventAudioChunk = "audio.chunk"
	eventAudioEnd   = "audio.end"

	eventResponseStart     = "response.start"
	eventResponseChunk     = "response.chunk"
	eventResponseComplete  = "response.complete"
	eventResponseInterrupt = "response.interrupt"
	eventResponseStop      = "response.stop"
)

// TransportStatus reports whether the underlying transport is currently
// usable for a new recording session.
type TransportStatus interface {
	Connected() bool
}

// Session is the subset of *session.Manager the orchestrator drives.
type Session interface {
	SessionID() string
	Send(ctx context.Context, event wire.Message) error
	SendWithAck(ctx context.Context, event wire.Message, timeout time.Duration) (wire.Message, error)
	RegisterHandler(eventType string, h handler.Handler)
}

// Capture is the subset of *capture.Pipeline the orchestrator drives.
type Capture interface {
	Start(onFrame capture.FrameHandler, requestedRate int) (int, error)
	Stop() error
	SetMuted(muted bool)
}

// Sequencer is the subset of *playback.Sequencer the orchestrator drives.
type Sequencer interface {
	PlayChunk(audioBytes []byte, sampleRate int, utteranceID string) error
	Stop()
}

// Config configures an Orchestrator.
type Config struct {
	Session           Session
	Capture           Capture
	Sequencer         Sequencer
	Bus               *bus.Bus
	Transport         TransportStatus
	AudioStartTimeout time.Duration
	Logger            *slog.Logger

	// Language is sent as a hint on every audio.start payload, per §6's
	// *.audio.start schema. Empty means no hint is sent.
	Language string

	// StartBreaker guards repeated audio.start failures: a server that keeps
	// rejecting session starts (bad session state, malformed payload) should
	// not be hammered with a start attempt on every StartRecording call. When
	// nil, a breaker with the package defaults is created.
	StartBreaker *resilience.CircuitBreaker

	// Metrics records ack latency and frame/chunk throughput. When nil,
	// observe.DefaultMetrics is used.
	Metrics *observe.Metrics
}

// Orchestrator is the component described in §4.10.
type Orchestrator struct {
	session   Session
	capture   Capture
	sequencer Sequencer
	bus       *bus.Bus
	transport TransportStatus
	startTO   time.Duration
	log       *slog.Logger
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics

	mu        sync.Mutex
	recording bool
	language  string
}

// New creates an Orchestrator and registers its response-event handlers on
// Config.Session.
func New(cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	startTO := cfg.AudioStartTimeout
	if startTO <= 0 {
		startTO = DefaultAudioStartTimeout
	}

	breaker := cfg.StartBreaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "audio.start",
		})
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	o := &Orchestrator{
		session:   cfg.Session,
		capture:   cfg.Capture,
		sequencer: cfg.Sequencer,
		bus:       cfg.Bus,
		transport: cfg.Transport,
		startTO:   startTO,
		log:       log,
		breaker:   breaker,
		metrics:   metrics,
		language:  cfg.Language,
	}

	cfg.Session.RegisterHandler(eventResponseStart, o.handleResponseStart)
	cfg.Session.RegisterHandler(eventResponseChunk, o.handleResponseChunk)
	cfg.Session.RegisterHandler(eventResponseInterrupt, o.handleResponseStopLike)
	cfg.Session.RegisterHandler(eventResponseStop, o.handleResponseStopLike)
	cfg.Session.RegisterHandler(eventResponseComplete, o.handleResponseComplete)
	cfg.Session.RegisterHandler("error", o.handleGenericError)

	return o
}

// StartRecording verifies the transport is connected and a session id is
// latched, starts capture, and issues audio.start. On any failure after
// capture has started, capture is stopped before the error is returned.
func (o *Orchestrator) StartRecording(ctx context.Context, requestedRate int) error {
	o.mu.Lock()
	if o.recording {
		o.mu.Unlock()
		return voxerr.New(voxerr.KindNotReady, "recording already in progress")
	}
	o.mu.Unlock()

	if !o.transport.Connected() || o.session.SessionID() == "" {
		return voxerr.New(voxerr.KindNotReady, "transport not connected or session not established")
	}

	if o.breaker.State() == resilience.StateOpen {
		return voxerr.New(voxerr.KindNotReady, "audio.start circuit breaker is open")
	}

	actualRate, err := o.capture.Start(o.onCaptureFrame, requestedRate)
	if err != nil {
		return err
	}

	o.mu.Lock()
	language := o.language
	o.mu.Unlock()

	startEvent := wire.Message{
		EventType: eventAudioStart,
		Payload:   wire.Payload{SamplingRate: actualRate, Language: language},
	}
	ackStart := time.Now()
	ackErr := o.breaker.Execute(func() error {
		_, err := o.session.SendWithAck(ctx, startEvent, o.startTO)
		return err
	})
	o.metrics.AckLatency.Record(ctx, time.Since(ackStart).Seconds())
	if ackErr != nil {
		_ = o.capture.Stop()
		return voxerr.Wrap(voxerr.KindSendFailed, "audio.start was not acknowledged", ackErr)
	}

	o.mu.Lock()
	o.recording = true
	o.mu.Unlock()
	return nil
}

// onCaptureFrame sends each captured frame as a fire-and-forget
// audio.chunk; send failures are logged and never stop capture, per
// §4.10 step 4.
func (o *Orchestrator) onCaptureFrame(frame capture.Frame) error {
	event := wire.Message{
		EventType: eventAudioChunk,
		Payload:   wire.Payload{Audio: frame.Data, IsMuted: frame.IsMuted},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.session.Send(ctx, event); err != nil {
		o.log.Warn("audio.chunk send failed, continuing capture", "error", err)
		o.metrics.FramesDropped.Add(ctx, 1)
		return nil
	}
	o.metrics.FramesSent.Add(ctx, 1)
	return nil
}

// StopRecording stops capture and issues audio.end. An ack failure is
// surfaced to the caller but the local stop is never undone, per §4.10
// step 5.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	o.mu.Lock()
	if !o.recording {
		o.mu.Unlock()
		return nil
	}
	o.recording = false
	o.mu.Unlock()

	_ = o.capture.Stop()

	_, err := o.session.SendWithAck(ctx, wire.Message{EventType: eventAudioEnd}, o.startTO)
	if err != nil {
		return voxerr.Wrap(voxerr.KindSendFailed, "audio.end was not acknowledged", err)
	}
	return nil
}

// SetLanguage updates the language hint sent on subsequent audio.start
// payloads. It has no effect on a recording already in progress.
func (o *Orchestrator) SetLanguage(language string) {
	o.mu.Lock()
	o.language = language
	o.mu.Unlock()
}

// SetMuted mutes or unmutes the capture pipeline; every subsequent
// audio.chunk reports the new state via Payload.IsMuted, per §6.
func (o *Orchestrator) SetMuted(muted bool) {
	o.capture.SetMuted(muted)
}

// OnTransportLost stops a recording in progress without attempting to
// notify the server, since the transport is the thing that was lost.
func (o *Orchestrator) OnTransportLost() {
	o.mu.Lock()
	wasRecording := o.recording
	o.recording = false
	o.mu.Unlock()

	if wasRecording {
		_ = o.capture.Stop()
	}
}

func (o *Orchestrator) handleResponseStart(rawFrame []byte, msg wire.Message) error {
	o.sequencer.Stop()
	o.bus.ResponseStart.Publish(msg)
	return nil
}

func (o *Orchestrator) handleResponseChunk(rawFrame []byte, msg wire.Message) error {
	audio := make([]byte, len(msg.Payload.Audio))
	copy(audio, msg.Payload.Audio)

	rate := msg.Payload.SamplingRate
	if rate <= 0 || rate > 192000 {
		rate = DefaultResponseSampleRate
	}

	utteranceID := msg.Payload.UtteranceID
	if err := o.sequencer.PlayChunk(audio, rate, utteranceID); err != nil {
		o.log.Warn("sequencer rejected response.chunk", "error", err)
		o.metrics.RecordChunkPlayed(context.Background(), "dropped")
	} else {
		o.metrics.RecordChunkPlayed(context.Background(), "played")
	}
	o.bus.ResponseChunk.Publish(msg)
	return nil
}

func (o *Orchestrator) handleResponseStopLike(rawFrame []byte, msg wire.Message) error {
	o.sequencer.Stop()
	if msg.EventType == eventResponseInterrupt {
		o.bus.ResponseInterrupt.Publish(msg)
	} else {
		o.bus.ResponseStop.Publish(msg)
	}
	return nil
}

func (o *Orchestrator) handleResponseComplete(rawFrame []byte, msg wire.Message) error {
	o.bus.ResponseComplete.Publish(msg)
	return nil
}

// handleGenericError is the wildcard error-event handler: any event type
// ending in ".error" with no dedicated error handler lands here, per
// §4.10's "any *.error -> publish and surface" rule. Publishing on the bus
// Error topic is the surfacing mechanism; there is no separate
// synchronous error channel back to the caller of StartRecording once
// recording is underway.
func (o *Orchestrator) handleGenericError(rawFrame []byte, msg wire.Message) error {
	o.log.Warn("server reported error event", "event_type", msg.EventType, "message", msg.Payload.Message, "code", msg.Payload.Code)
	o.bus.Error.Publish(msg)
	return nil
}
