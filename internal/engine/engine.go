package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/offline"
	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/shared"
	"github.com/avelar-io/ttskit/internal/transport"
)

// MaxOnlineTextBytes is the longest text accepted for a single online request.
const MaxOnlineTextBytes = 5000

type Mode int

const (
	ModeOnline Mode = iota
	ModeOffline
	ModeMixed
)

func (m Mode) String() string {
	switch m {
	case ModeOnline:
		return "online"
	case ModeOffline:
		return "offline"
	case ModeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Delegate receives orchestration outcomes. Nil fields are no-ops. Callbacks
// are delivered from a single goroutine, in dispatch order.
type Delegate struct {
	OnSynthesizeData  func(data []byte, utteranceID, text string, engineType shared.EngineType, requestID, respJSON string)
	OnError           func(err error, utteranceID, text string)
	OnOfflineAuthInfo func(info offline.AuthInfo)
}

// Health is a snapshot of the mixed-mode network health state.
type Health struct {
	LastGood            time.Time
	ConsecutiveFailures int
	Target              shared.EngineType
}

type Config struct {
	Credentials credentials.Provider
	Params      *params.Bag
	Timeouts    params.Timeouts

	Online transport.RequestClient

	Offline       offline.Engine
	License       credentials.OfflineLicense
	OfflineVoice  string
	OfflineSpeed  float64
	OfflineVolume float64

	// Cache, when set, short-circuits online dispatch for repeated text.
	Cache Cache

	Probe ProbeConfig

	Log *slog.Logger
}

type request struct {
	text        string
	utteranceID string
}

type engineEvent struct {
	data        []byte
	utteranceID string
	text        string
	engineType  shared.EngineType
	requestID   string
	respJSON    string
	err         error
	auth        *offline.AuthInfo
}

// Engine accepts a stream of text requests and produces audio units, routing
// each to the online or offline backend per its mode. Construct one per use;
// there is no process-wide instance.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu             sync.Mutex
	state          State
	mode           Mode
	queue          []request
	dispatching    bool
	inFlightCancel context.CancelFunc
	authInfo       offline.AuthInfo
	authDone       bool
	target         shared.EngineType
	lastGood       time.Time
	failures       int
	probeKick      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events     chan engineEvent
	dispatched chan struct{}
}

func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.Params == nil {
		cfg.Params = params.NewBag()
	}
	cfg.Timeouts = cfg.Timeouts.Normalize()
	cfg.Probe = cfg.Probe.normalize()
	return &Engine{
		cfg: cfg,
		log: log.With("component", "tts-engine"),
	}
}

// Init transitions the engine to Initialized and binds the delegate. Calling
// Init on an initialized engine fails with ErrEngineBusy; a released engine
// must be recreated.
func (e *Engine) Init(mode Mode, delegate Delegate) error {
	e.mu.Lock()
	switch e.state {
	case StateInitialized:
		e.mu.Unlock()
		return shared.ErrEngineBusy
	case StateReleased:
		e.mu.Unlock()
		return shared.ErrEngineReleased
	}

	if mode != ModeOnline && e.cfg.Offline == nil {
		e.mu.Unlock()
		return shared.NewValidationError("offline engine required for offline or mixed mode")
	}
	if mode != ModeOffline && e.cfg.Online == nil {
		e.mu.Unlock()
		return shared.NewValidationError("online client required for online or mixed mode")
	}
	if mode != ModeOffline && e.cfg.Credentials == nil {
		e.mu.Unlock()
		return shared.NewValidationError("credential provider required for online or mixed mode")
	}

	e.state = StateInitialized
	e.mode = mode
	e.target = shared.EngineOnline
	if mode == ModeOffline {
		e.target = shared.EngineOffline
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.events = make(chan engineEvent, 256)
	e.dispatched = make(chan struct{})
	if mode == ModeMixed {
		e.probeKick = make(chan struct{}, 1)
	}
	e.mu.Unlock()

	go e.deliver(delegate)

	if mode == ModeOffline || mode == ModeMixed {
		e.wg.Add(1)
		go e.authorize()
	}
	if mode == ModeMixed {
		prober := NewProber(ProberConfig{
			Client:   e.cfg.Online,
			Probe:    e.cfg.Probe,
			Request:  e.probeRequest,
			OnResult: e.onProbeResult,
			Degraded: e.degraded,
			Log:      e.log,
		})
		e.wg.Add(1)
		go e.superviseProbes(prober)
	}
	return nil
}

// superviseProbes keeps the prober idle while routing is healthy. The first
// recorded failure wakes it and it runs until health is restored, so a
// healthy network costs no probe quota.
func (e *Engine) superviseProbes(p *Prober) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.probeKick:
		}
		p.Run(e.ctx)
	}
}

// Release drains in-flight work and retires the engine. Terminal; a released
// engine cannot be reused.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.state != StateInitialized {
		e.mu.Unlock()
		return shared.ErrEngineReleased
	}
	e.state = StateReleased
	e.queue = nil
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	close(e.events)
	<-e.dispatched

	if e.cfg.Offline != nil {
		return e.cfg.Offline.Close()
	}
	return nil
}

// Synthesize validates text and appends it to the FIFO queue. Completion is
// reported asynchronously through the delegate, in submission order.
func (e *Engine) Synthesize(text, utteranceID string) error {
	e.mu.Lock()
	if e.state != StateInitialized {
		state := e.state
		e.mu.Unlock()
		return &shared.TTSError{
			Kind:    shared.KindValidation,
			Code:    shared.CodeUninitialized,
			Message: fmt.Sprintf("engine is %s", state),
		}
	}
	mode := e.mode
	e.mu.Unlock()

	if text == "" {
		return shared.NewValidationError("text must not be empty")
	}
	if mode == ModeOffline && len(text) > offline.MaxTextBytes {
		return shared.NewOfflineError(shared.CodeOfflineTextTooLong,
			fmt.Sprintf("text exceeds %d bytes", offline.MaxTextBytes), nil)
	}
	if mode != ModeOffline && len(text) > MaxOnlineTextBytes {
		return shared.NewValidationError(fmt.Sprintf("text exceeds %d bytes", MaxOnlineTextBytes))
	}

	e.mu.Lock()
	if e.state != StateInitialized {
		e.mu.Unlock()
		return shared.ErrEngineReleased
	}
	e.queue = append(e.queue, request{text: text, utteranceID: utteranceID})
	kick := !e.dispatching
	if kick {
		e.dispatching = true
		// inside the lock so Release cannot observe the WaitGroup between
		// the state check and the Add
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if kick {
		go e.processQueue()
	}
	return nil
}

// Cancel drains the pending queue and aborts the in-flight request. Returns
// ErrNothingToCancel when there was no pending or in-flight work, so callers
// can detect races.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	if e.state != StateInitialized {
		e.mu.Unlock()
		return shared.ErrNothingToCancel
	}
	had := len(e.queue) > 0 || e.inFlightCancel != nil
	e.queue = nil
	abort := e.inFlightCancel
	e.mu.Unlock()

	if abort != nil {
		abort()
	}
	if !had {
		return shared.ErrNothingToCancel
	}
	return nil
}

func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// QueueSize reports the number of pending requests, not counting the one in
// flight.
func (e *Engine) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		LastGood:            e.lastGood,
		ConsecutiveFailures: e.failures,
		Target:              e.target,
	}
}

// AuthInfo reports the result of the offline authorization handshake, valid
// once the delegate's OnOfflineAuthInfo has fired.
func (e *Engine) AuthInfo() (offline.AuthInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authInfo, e.authDone
}

// processQueue is the single dispatcher: at most one backend call is in
// flight per engine at any time.
func (e *Engine) processQueue() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if e.state != StateInitialized || len(e.queue) == 0 {
			e.dispatching = false
			e.mu.Unlock()
			return
		}
		req := e.queue[0]
		e.queue = e.queue[1:]
		target := e.target
		e.mu.Unlock()

		e.dispatch(req, target)
	}
}

func (e *Engine) dispatch(req request, target shared.EngineType) {
	if target == shared.EngineOffline {
		e.dispatchOffline(req)
		return
	}
	e.dispatchOnline(req)
}

func (e *Engine) dispatchOnline(req request) {
	snapshot := e.cfg.Params.Snapshot()

	if e.cfg.Cache != nil {
		if entry, ok := e.cfg.Cache.Get(e.ctx, CacheKey(req.text, snapshot)); ok {
			e.emit(engineEvent{
				data:        entry.Audio,
				utteranceID: req.utteranceID,
				text:        req.text,
				engineType:  shared.EngineOnline,
				requestID:   entry.RequestID,
				respJSON:    entry.RawResponse,
			})
			return
		}
	}

	creds, err := e.cfg.Credentials.Credentials(e.ctx)
	if err != nil {
		e.emit(engineEvent{
			err:         shared.NewValidationError(fmt.Sprintf("credential lookup failed: %v", err)),
			utteranceID: req.utteranceID,
			text:        req.text,
		})
		return
	}

	reqCtx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.inFlightCancel = cancel
	e.mu.Unlock()

	res, err := e.cfg.Online.Synthesize(reqCtx, transport.Request{
		Text:        req.text,
		UtteranceID: req.utteranceID,
		Credentials: creds,
		Params:      snapshot,
		Region:      e.cfg.Params.Region(),
		Timeouts:    e.cfg.Timeouts,
	})

	e.mu.Lock()
	e.inFlightCancel = nil
	e.mu.Unlock()
	cancelled := reqCtx.Err() != nil
	cancel()

	if err != nil {
		if cancelled {
			e.emit(engineEvent{
				err:         shared.NewCancellationError("synthesis cancelled"),
				utteranceID: req.utteranceID,
				text:        req.text,
			})
			return
		}
		if kind, _ := shared.ErrKind(err); kind == shared.KindTransport {
			e.recordFailure()
		}
		e.emit(engineEvent{err: err, utteranceID: req.utteranceID, text: req.text})
		return
	}

	e.recordSuccess()
	if e.cfg.Cache != nil {
		e.cfg.Cache.Set(e.ctx, CacheKey(req.text, snapshot), &CachedAudio{
			Audio:       res.Audio,
			RequestID:   res.RequestID,
			RawResponse: res.RawResponse,
		})
	}
	e.emit(engineEvent{
		data:        res.Audio,
		utteranceID: req.utteranceID,
		text:        req.text,
		engineType:  shared.EngineOnline,
		requestID:   res.RequestID,
		respJSON:    res.RawResponse,
	})
}

func (e *Engine) dispatchOffline(req request) {
	e.mu.Lock()
	authorized := e.authDone && e.authInfo.Success()
	e.mu.Unlock()
	if !authorized {
		e.emit(engineEvent{
			err:         shared.NewOfflineAuthError("offline engine not authorized"),
			utteranceID: req.utteranceID,
			text:        req.text,
		})
		return
	}
	if len(req.text) > offline.MaxTextBytes {
		e.emit(engineEvent{
			err: shared.NewOfflineError(shared.CodeOfflineTextTooLong,
				fmt.Sprintf("text exceeds %d bytes", offline.MaxTextBytes), nil),
			utteranceID: req.utteranceID,
			text:        req.text,
		})
		return
	}

	reqCtx, cancel := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.inFlightCancel = cancel
	e.mu.Unlock()

	res, err := e.cfg.Offline.Synthesize(reqCtx, offline.Request{
		Text:        req.text,
		UtteranceID: req.utteranceID,
		VoiceType:   e.cfg.OfflineVoice,
		Speed:       e.cfg.OfflineSpeed,
		Volume:      e.cfg.OfflineVolume,
	})

	e.mu.Lock()
	e.inFlightCancel = nil
	e.mu.Unlock()
	cancelled := reqCtx.Err() != nil
	cancel()

	if err != nil {
		if cancelled {
			err = shared.NewCancellationError("synthesis cancelled")
		} else if _, ok := shared.ErrKind(err); !ok {
			err = shared.NewOfflineError(shared.CodeOfflineFailure, "offline synthesis failed", err)
		}
		e.emit(engineEvent{err: err, utteranceID: req.utteranceID, text: req.text})
		return
	}

	e.emit(engineEvent{
		data:        res.Audio,
		utteranceID: req.utteranceID,
		text:        req.text,
		engineType:  shared.EngineOffline,
	})
}

// authorize runs the offline license handshake; the result reaches the
// delegate exactly once per attempt.
func (e *Engine) authorize() {
	defer e.wg.Done()
	info := e.cfg.Offline.Authorize(e.ctx, e.cfg.License)

	e.mu.Lock()
	e.authInfo = info
	e.authDone = true
	e.mu.Unlock()

	if !info.Success() {
		e.log.Warn("offline authorization failed", "code", info.Code, "message", info.Message)
	}
	e.emit(engineEvent{auth: &info})
}

func (e *Engine) probeRequest() (transport.Request, error) {
	creds, err := e.cfg.Credentials.Credentials(e.ctx)
	if err != nil {
		return transport.Request{}, err
	}
	return transport.Request{
		Text:        e.cfg.Probe.Text,
		Credentials: creds,
		Params:      e.cfg.Params.Snapshot(),
		Region:      e.cfg.Params.Region(),
		Timeouts:    e.cfg.Timeouts,
	}, nil
}

func (e *Engine) onProbeResult(err error) {
	if err != nil {
		e.recordFailure()
		return
	}
	e.recordSuccess()
}

// degraded reports whether mixed-mode routing is in its failure window; the
// prober runs only while this holds.
func (e *Engine) degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures > 0 || e.target == shared.EngineOffline
}

func (e *Engine) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != ModeMixed {
		return
	}
	e.failures++
	if e.failures >= e.cfg.Probe.FailureThreshold && e.target == shared.EngineOnline {
		e.target = shared.EngineOffline
		e.log.Info("network degraded, routing offline", "failures", e.failures)
	}
	select {
	case e.probeKick <- struct{}{}:
	default:
	}
}

func (e *Engine) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastGood = time.Now()
	e.failures = 0
	if e.mode == ModeMixed && e.target == shared.EngineOffline {
		e.target = shared.EngineOnline
		e.log.Info("network recovered, routing online")
	}
}

// emit hands an event to the delivery goroutine. Events from the dispatcher
// stay ordered; the channel is closed only after all producers exit.
func (e *Engine) emit(ev engineEvent) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
		// Release is draining; deliver best-effort without blocking forever.
		select {
		case e.events <- ev:
		default:
		}
	}
}

func (e *Engine) deliver(d Delegate) {
	defer close(e.dispatched)
	for ev := range e.events {
		switch {
		case ev.auth != nil:
			if d.OnOfflineAuthInfo != nil {
				d.OnOfflineAuthInfo(*ev.auth)
			}
		case ev.err != nil:
			if d.OnError != nil {
				d.OnError(ev.err, ev.utteranceID, ev.text)
			}
		default:
			if d.OnSynthesizeData != nil {
				d.OnSynthesizeData(ev.data, ev.utteranceID, ev.text, ev.engineType, ev.requestID, ev.respJSON)
			}
		}
	}
}
