package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/shared"
	"github.com/avelar-io/ttskit/internal/transport"
	"github.com/google/uuid"
)

type Status int

const (
	StatusOpen Status = iota
	StatusStreaming
	StatusCompleted
	StatusCancelled
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusErrored
}

// Listener receives the events of one session. Nil fields are no-ops.
// Callbacks are delivered from a single goroutine: data and message events in
// arrival order, then exactly one of OnFinish or OnError, then nothing.
type Listener struct {
	OnData    func(data []byte)
	OnMessage func(raw string)
	OnLog     func(msg string)
	OnFinish  func()
	OnError   func(err error)
}

type Config struct {
	Credentials credentials.Provider
	Params      *params.Bag
	Timeouts    params.Timeouts
	Stream      transport.StreamClient
	Log         *slog.Logger
}

type eventKind int

const (
	evData eventKind = iota
	evMessage
	evLog
	evFinish
	evError
)

type event struct {
	kind eventKind
	data []byte
	msg  string
	err  error
}

// Session drives one streaming synthesis exchange end to end.
type Session struct {
	id     string
	client transport.StreamClient
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event

	mu     sync.Mutex
	status Status
	stream transport.Stream
}

// Build validates the configuration and starts a session. Validation failures
// are returned synchronously before any I/O; afterwards all outcomes arrive on
// the listener.
func (cfg Config) Build(listener Listener) (*Session, error) {
	if cfg.Stream == nil {
		return nil, shared.NewValidationError("stream client is required")
	}
	if cfg.Credentials == nil {
		return nil, shared.NewValidationError("credential provider is required")
	}
	if cfg.Params == nil {
		return nil, shared.NewValidationError("synthesis parameters are required")
	}
	text, ok := cfg.Params.Get(params.KeyText)
	if !ok || text == "" {
		return nil, shared.NewValidationError("text must not be empty")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	creds, err := cfg.Credentials.Credentials(context.Background())
	if err != nil {
		return nil, shared.NewValidationError(fmt.Sprintf("credential lookup failed: %v", err))
	}
	if !creds.Valid() {
		return nil, shared.NewValidationError("incomplete credentials: app id, secret id and secret key are required")
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		client: cfg.Stream,
		log:    log.With("session_id", id),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan event, 256),
		status: StatusOpen,
	}

	req := transport.StreamRequest{
		Credentials: creds,
		Params:      cfg.Params.Snapshot(),
		Region:      cfg.Params.Region(),
		Timeouts:    cfg.Timeouts.Normalize(),
	}

	go s.dispatch(listener)
	go s.run(req)
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cancel requests termination. Exactly one cancellation error reaches the
// listener if active work was interrupted. Calling Cancel on a finished
// session returns ErrNothingToCancel.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return shared.ErrNothingToCancel
	}
	s.status = StatusCancelled
	stream := s.stream
	s.mu.Unlock()

	s.cancel()
	if stream != nil {
		_ = stream.Close()
	}
	s.events <- event{kind: evError, err: shared.NewCancellationError("synthesis cancelled")}
	return nil
}

// post enqueues a non-terminal event. A full buffer blocks the producer until
// the dispatcher catches up; the dispatcher drains until the terminal event,
// and terminate/Cancel fire s.cancel() first, which releases a blocked
// producer once the session is over.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) run(req transport.StreamRequest) {
	stream, err := s.client.OpenStream(s.ctx, req, transport.StreamHandler{
		OnData:    s.handleData,
		OnMessage: s.handleMessage,
		OnFinish:  s.handleFinish,
		OnError:   s.handleError,
	})
	if err != nil {
		s.terminate(StatusErrored, err)
		return
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		_ = stream.Close()
		return
	}
	s.stream = stream
	s.mu.Unlock()
	s.post(event{kind: evLog, msg: "stream opened"})
}

// dispatch is the single goroutine delivering listener callbacks, preserving
// the per-listener serialization guarantee. It exits after the first terminal
// event.
func (s *Session) dispatch(l Listener) {
	for ev := range s.events {
		switch ev.kind {
		case evData:
			if l.OnData != nil {
				l.OnData(ev.data)
			}
		case evMessage:
			if l.OnMessage != nil {
				l.OnMessage(ev.msg)
			}
		case evLog:
			if l.OnLog != nil {
				l.OnLog(ev.msg)
			}
		case evFinish:
			if l.OnFinish != nil {
				l.OnFinish()
			}
			return
		case evError:
			if l.OnError != nil {
				l.OnError(ev.err)
			}
			return
		}
	}
}

func (s *Session) handleData(data []byte) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusStreaming
	s.mu.Unlock()
	s.post(event{kind: evData, data: data})
}

func (s *Session) handleMessage(raw []byte) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusStreaming
	s.mu.Unlock()
	s.post(event{kind: evMessage, msg: string(raw)})
}

func (s *Session) handleFinish() {
	s.terminate(StatusCompleted, nil)
}

func (s *Session) handleError(err error) {
	s.terminate(StatusErrored, err)
}

// terminate moves the session to a terminal status and emits the terminal
// event, unless another terminal transition won the race.
func (s *Session) terminate(status Status, err error) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	s.cancel()
	if err != nil {
		s.log.Debug("session errored", "error", err)
		s.events <- event{kind: evError, err: err}
		return
	}
	s.events <- event{kind: evFinish}
}
