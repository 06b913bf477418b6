// Package app wires all voxcore subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and wires all
// subsystems, Run connects the transport and drives the connect/record/stop loop, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithCaptureOpen, WithPlaybackSink, WithProber). When an option is not
// provided, New falls back to the package defaults documented on each
// subsystem's own boundary.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nullwave/voxcore/internal/config"
	"github.com/nullwave/voxcore/internal/health"
	"github.com/nullwave/voxcore/internal/observe"
	"github.com/nullwave/voxcore/pkg/bus"
	"github.com/nullwave/voxcore/pkg/capture"
	capturemock "github.com/nullwave/voxcore/pkg/capture/mock"
	"github.com/nullwave/voxcore/pkg/handler"
	"github.com/nullwave/voxcore/pkg/netmonitor"
	"github.com/nullwave/voxcore/pkg/orchestrator"
	"github.com/nullwave/voxcore/pkg/playback"
	playbackmock "github.com/nullwave/voxcore/pkg/playback/mock"
	"github.com/nullwave/voxcore/pkg/session"
	"github.com/nullwave/voxcore/pkg/tracker"
	"github.com/nullwave/voxcore/pkg/transport"
)

// App owns all subsystem lifetimes and drives the voxcore client core.
type App struct {
	cfg *config.Config
	log *slog.Logger

	monitor   *netmonitor.Monitor
	client    *transport.Client
	trk       *tracker.Tracker
	bus       *bus.Bus
	session   *session.Manager
	capture   *capture.Pipeline
	sequencer *playback.Sequencer
	orch      *orchestrator.Orchestrator

	httpSrv  *http.Server
	metrics  *observe.Metrics
	otelStop func(context.Context) error
	levelVar *slog.LevelVar

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles
// at the platform boundary (microphone, speaker, network prober) that has
// no counterpart in the example corpus.
type Option func(*options)

type options struct {
	captureOpen capture.OpenFunc
	sink        playback.Sink
	prober      netmonitor.Prober
}

// WithCaptureOpen injects a capture.OpenFunc instead of the package default
// (a mock source that never produces audio until fed).
func WithCaptureOpen(open capture.OpenFunc) Option {
	return func(o *options) { o.captureOpen = open }
}

// WithPlaybackSink injects a playback.Sink instead of the package default
// (an auto-completing mock sink).
func WithPlaybackSink(sink playback.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithProber injects a netmonitor.Prober instead of the always-online
// default used when no platform reachability signal is available.
func WithProber(p netmonitor.Prober) Option {
	return func(o *options) { o.prober = p }
}

// transportStatus adapts *transport.Client to orchestrator.TransportStatus.
type transportStatus struct{ c *transport.Client }

func (t transportStatus) Connected() bool { return t.c.State() == transport.StateConnected }

// New wires every subsystem together from cfg. Construction is synchronous
// and does not dial the transport; call Run to connect and start the
// capture/response loop.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	log, levelVar := newLogger(cfg.LogLevel)

	a := &App{cfg: cfg, log: log, levelVar: levelVar}

	otelStop, err := observe.InitProvider(context.Background(), observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.otelStop = otelStop
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.otelStop(ctx)
	})

	a.metrics = observe.DefaultMetrics()

	a.monitor = netmonitor.New(netmonitor.Config{
		Prober: o.prober,
		Logger: log,
	})
	a.closers = append(a.closers, func() error { a.monitor.Close(); return nil })

	a.client = transport.NewClient(transport.Config{
		ConnectTimeout:       cfg.Transport.ConnectTimeout,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		ReconnectDelays:      cfg.Transport.ReconnectDelays,
		LivenessInterval:     cfg.Transport.LivenessInterval,
		SendWaitTimeout:      cfg.Transport.SendWaitTimeout,
		Monitor:              a.monitor,
		Logger:               log,
	})
	a.closers = append(a.closers, func() error { a.client.Close(); return nil })

	a.trk = tracker.New(tracker.Config{
		Capacity:      cfg.Tracker.Capacity,
		SweepInterval: cfg.Tracker.SweepInterval,
		Logger:        log,
	})
	a.closers = append(a.closers, func() error { a.trk.Close(); return nil })

	a.bus = bus.New(log)
	reg := handler.New(log)

	a.session = session.New(session.Config{
		Transport: a.client,
		Registry:  reg,
		Tracker:   a.trk,
		Bus:       a.bus,
		Logger:    log,
	})
	a.closers = append(a.closers, func() error { a.session.Close(); return nil })

	captureOpen := o.captureOpen
	if captureOpen == nil {
		captureOpen = mutedMicrophone
	}
	a.capture = capture.New(captureOpen, cfg.Capture.BufferSamples, log)

	sink := o.sink
	if sink == nil {
		sink = playbackmock.NewSink(true)
	}
	a.sequencer = playback.New(sink, log)
	a.closers = append(a.closers, func() error { a.sequencer.Destroy(); return nil })

	a.orch = orchestrator.New(orchestrator.Config{
		Session:           a.session,
		Capture:           a.capture,
		Sequencer:         a.sequencer,
		Bus:               a.bus,
		Transport:         transportStatus{a.client},
		AudioStartTimeout: cfg.Session.AudioStartTimeout,
		Logger:            log,
		Language:          cfg.Session.Language,
		Metrics:           a.metrics,
	})

	if cfg.Metrics.Enabled {
		a.startMetricsServer(cfg.Metrics.ListenAddr)
	}

	return a, nil
}

// mutedMicrophone is the capture.OpenFunc used when no platform microphone
// adapter is injected: it yields a source that blocks forever without
// producing samples, so the capture pipeline starts and stops cleanly but
// never emits audio. Real microphone access is platform code with no
// counterpart in the example corpus (see pkg/capture's package doc).
func mutedMicrophone(requestedRate int) (capture.Source, error) {
	return capturemock.NewSource(requestedRate), nil
}

// startMetricsServer serves /metrics (Prometheus scrape), /healthz, and
// /readyz on addr. Failures to listen are logged; the app continues to run
// without the HTTP surface.
func (a *App) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	healthHandler := health.New(
		health.Checker{Name: "transport", Check: a.checkTransport},
		health.Checker{Name: "tracker", Check: a.checkTracker},
	)
	healthHandler.Register(mux)

	a.httpSrv = &http.Server{Addr: addr, Handler: observe.Middleware(a.metrics)(mux)}
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
		}
	}()
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(ctx)
	})
}

func (a *App) checkTransport(ctx context.Context) error {
	if a.client.State() != transport.StateConnected {
		return fmt.Errorf("transport state is %s", a.client.State())
	}
	return nil
}

func (a *App) checkTracker(ctx context.Context) error {
	if a.trk.Len() >= a.cfg.Tracker.Capacity {
		return errors.New("tracker is at capacity")
	}
	return nil
}

// Run connects the transport, starts a recording session once connected,
// and blocks until ctx is cancelled. Transport loss or connect failure
// stops an in-progress recording without attempting further protocol
// traffic.
func (a *App) Run(ctx context.Context) error {
	unsub := a.client.OnStateChange(func(s transport.State) {
		switch s {
		case transport.StateConnected:
			go a.beginRecording(ctx)
		case transport.StateDisconnected, transport.StateReconnecting, transport.StateError:
			a.orch.OnTransportLost()
		}
	})
	defer unsub()

	if err := a.client.Connect(ctx, a.cfg.Transport.URL); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}

	a.log.Info("voxcore running", "url", a.cfg.Transport.URL)
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.orch.StopRecording(stopCtx); err != nil {
		a.log.Warn("stop recording on shutdown", "error", err)
	}

	return ctx.Err()
}

func (a *App) beginRecording(ctx context.Context) {
	if err := a.orch.StartRecording(ctx, a.cfg.Capture.RequestedSampleRate); err != nil {
		a.log.Error("failed to start recording", "error", err)
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		_ = a.client.Disconnect(true)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// newLogger builds the logger shared by every subsystem, backed by a
// slog.LevelVar so SetLogLevel can change it live: every subsystem holds the
// same *slog.Logger, and the handler reads the LevelVar at each log call.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := &slog.LevelVar{}
	lv.Set(toSlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func toSlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes the level of every subsystem's shared logger,
// effective on the next log call. It is the hot-reload target for
// internal/config.Watcher's LogLevel field.
func (a *App) SetLogLevel(level config.LogLevel) {
	a.levelVar.Set(toSlogLevel(level))
}

// SetLanguage updates the language hint sent on subsequent audio.start
// payloads. It is the hot-reload target for internal/config.Watcher's
// SessionConfig.Language field.
func (a *App) SetLanguage(language string) {
	a.orch.SetLanguage(language)
}
