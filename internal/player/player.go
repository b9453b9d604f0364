package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/avelar-io/ttskit/internal/shared"
	"github.com/avelar-io/ttskit/internal/transport"
)

type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Unit is one playable entry: either an in-memory payload or a file
// reference, plus the text it was synthesized from. RespJSON, when present,
// carries the backend response whose subtitle list drives progress callbacks.
// The payload belongs to the queue once enqueued; callers must not mutate it.
type Unit struct {
	Audio       []byte
	File        string
	Text        string
	UtteranceID string
	RespJSON    string
}

// Callbacks receives playback lifecycle events. Nil fields are skipped.
// Delivery is serialized: no two callbacks run concurrently.
type Callbacks struct {
	OnPlayStart    func()
	OnPlayWait     func()
	OnPlayResume   func()
	OnPlayPause    func()
	OnPlayStop     func()
	OnPlayNext     func(text, utteranceID string)
	OnPlayError    func(err *shared.PlayerError)
	OnPlayProgress func(word string, index int)
}

type Config struct {
	Renderer  Renderer
	Callbacks Callbacks
	// Capacity bounds the queue; 0 means unbounded.
	Capacity int
	// ProgressInterval is the sampling period for progress estimation.
	ProgressInterval time.Duration
	Log              *slog.Logger
}

const defaultProgressInterval = 20 * time.Millisecond

// Player drains a FIFO of audio units through a Renderer, one unit at a time,
// in enqueue order. It is long-lived: producers may keep appending while
// playback drains concurrently.
type Player struct {
	renderer      Renderer
	cb            Callbacks
	capacity      int
	progressEvery time.Duration
	log           *slog.Logger

	mu          sync.Mutex
	state       State
	queue       []Unit
	dispatching bool
	stopped     bool
	unitCancel  context.CancelFunc

	// progress clock for the unit in flight
	unitStart   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events     chan func()
	dispatched chan struct{}
}

func New(cfg Config) *Player {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = NewTimedRenderer()
	}
	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		renderer:      renderer,
		cb:            cfg.Callbacks,
		capacity:      cfg.Capacity,
		progressEvery: interval,
		log:           log.With("component", "player"),
		ctx:           ctx,
		cancel:        cancel,
		events:        make(chan func(), 256),
		dispatched:    make(chan struct{}),
	}
	go p.deliver()
	return p
}

// Enqueue appends a unit to the queue and kicks off playback if the player is
// idle. Fails without altering the queue when the capacity bound is reached.
func (p *Player) Enqueue(u Unit) error {
	if len(u.Audio) == 0 && u.File == "" {
		return shared.NewPlayerError(shared.PlayerCodeAudioReadFailed, "unit carries no audio payload or file", nil)
	}

	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return shared.NewPlayerError(shared.PlayerCodeException, "player is closed", nil)
	}
	if p.capacity > 0 && len(p.queue) >= p.capacity {
		p.mu.Unlock()
		return shared.NewPlayerError(shared.PlayerCodeQueueFull,
			fmt.Sprintf("queue is full (%d entries)", p.capacity), shared.ErrQueueFull)
	}
	p.queue = append(p.queue, u)
	kick := !p.dispatching
	if kick {
		p.dispatching = true
		p.wg.Add(1)
	}
	p.mu.Unlock()

	if kick {
		go p.processQueue()
	}
	return nil
}

// EnqueueData enqueues an in-memory payload.
func (p *Player) EnqueueData(audio []byte, text, utteranceID string) error {
	return p.Enqueue(Unit{Audio: audio, Text: text, UtteranceID: utteranceID})
}

// EnqueueDataWithResponse enqueues an in-memory payload along with the raw
// backend response, enabling subtitle-driven progress callbacks.
func (p *Player) EnqueueDataWithResponse(audio []byte, text, utteranceID, respJSON string) error {
	return p.Enqueue(Unit{Audio: audio, Text: text, UtteranceID: utteranceID, RespJSON: respJSON})
}

// EnqueueFile enqueues an audio file reference. The file is read when the
// unit reaches the head of the queue.
func (p *Player) EnqueueFile(path, text, utteranceID string) error {
	return p.Enqueue(Unit{File: path, Text: text, UtteranceID: utteranceID})
}

// StopPlay halts the current unit, clears the queue and returns the player to
// idle. Queued units that never started produce no callbacks.
func (p *Player) StopPlay() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return shared.NewPlayerError(shared.PlayerCodeException, "player is closed", nil)
	}
	active := p.state != StateIdle || len(p.queue) > 0
	p.queue = nil
	if p.dispatching {
		p.stopped = true
	}
	if p.state == StatePaused {
		// a paused renderer must be unblocked before it can observe cancellation
		p.renderer.Resume()
	}
	p.state = StateIdle
	abort := p.unitCancel
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if abort != nil {
		abort()
	}
	if active {
		p.emit(func() {
			if p.cb.OnPlayStop != nil {
				p.cb.OnPlayStop()
			}
		})
	}
	return nil
}

// PausePlay suspends the unit in flight without discarding queued entries.
// Pausing an idle player is an error.
func (p *Player) PausePlay() error {
	p.mu.Lock()
	if p.state != StatePlaying {
		state := p.state
		p.mu.Unlock()
		return shared.NewPlayerError(shared.PlayerCodeException,
			fmt.Sprintf("nothing to pause, player is %s", state), nil)
	}
	p.state = StatePaused
	p.pausedAt = time.Now()
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if err := p.renderer.Pause(); err != nil {
		return shared.NewPlayerError(shared.PlayerCodeException, "renderer pause failed", err)
	}
	p.emit(func() {
		if p.cb.OnPlayPause != nil {
			p.cb.OnPlayPause()
		}
	})
	return nil
}

// ResumePlay continues the paused unit from its position. It does not re-fire
// OnPlayNext for that unit.
func (p *Player) ResumePlay() error {
	p.mu.Lock()
	if p.state != StatePaused {
		state := p.state
		p.mu.Unlock()
		return shared.NewPlayerError(shared.PlayerCodeException,
			fmt.Sprintf("nothing to resume, player is %s", state), nil)
	}
	p.state = StatePlaying
	p.pausedTotal += time.Since(p.pausedAt)
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if err := p.renderer.Resume(); err != nil {
		return shared.NewPlayerError(shared.PlayerCodeException, "renderer resume failed", err)
	}
	p.emit(func() {
		if p.cb.OnPlayResume != nil {
			p.cb.OnPlayResume()
		}
	})
	return nil
}

// QueueSize reports the backlog length, not counting the unit in flight.
func (p *Player) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close stops playback and retires the player. Terminal.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosed
	p.queue = nil
	if p.dispatching {
		p.stopped = true
	}
	p.renderer.Resume()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	close(p.events)
	<-p.dispatched
	return nil
}

func (p *Player) processQueue() {
	defer p.wg.Done()

	started := false
	for {
		p.mu.Lock()
		if p.state == StateClosed || len(p.queue) == 0 {
			wasStopped := p.stopped
			closed := p.state == StateClosed
			p.stopped = false
			p.dispatching = false
			if !closed {
				p.state = StateIdle
			}
			p.mu.Unlock()

			if !wasStopped && !closed {
				p.emit(func() {
					if p.cb.OnPlayWait != nil {
						p.cb.OnPlayWait()
					}
				})
			}
			return
		}

		u := p.queue[0]
		p.queue = p.queue[1:]
		p.state = StatePlaying
		p.unitStart = time.Now()
		p.pausedTotal = 0
		ctx, cancel := context.WithCancel(p.ctx)
		p.unitCancel = cancel
		p.mu.Unlock()

		// start is announced only once a unit actually left the queue, so a
		// stop that drained everything first stays silent
		if !started {
			started = true
			p.emit(func() {
				if p.cb.OnPlayStart != nil {
					p.cb.OnPlayStart()
				}
			})
		}

		p.playUnit(ctx, u)

		cancel()
		p.mu.Lock()
		p.unitCancel = nil
		p.mu.Unlock()
	}
}

func (p *Player) playUnit(ctx context.Context, u Unit) {
	audio := u.Audio
	if u.File != "" {
		data, err := os.ReadFile(u.File)
		if err != nil {
			p.reportError(shared.NewPlayerError(shared.PlayerCodeAudioReadFailed,
				fmt.Sprintf("reading %s failed", u.File), err), u)
			return
		}
		audio = data
	}

	subs := transport.ParseSubtitles(u.RespJSON)
	duration := estimateDuration(audio, subs)

	p.emit(func() {
		if p.cb.OnPlayNext != nil {
			p.cb.OnPlayNext(u.Text, u.UtteranceID)
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- p.renderer.Play(ctx, audio, duration)
	}()

	ticker := time.NewTicker(p.progressEvery)
	defer ticker.Stop()
	next := 0
	lastIndex := -1

	for {
		select {
		case err := <-done:
			if err == nil {
				// the unit fully rendered; report any trailing entries the
				// sampling interval skipped over
				for ; next < len(subs); next++ {
					p.progress(subs[next], &lastIndex)
				}
				return
			}
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			p.reportError(shared.NewPlayerError(shared.PlayerCodeException, "rendering failed", err), u)
			return
		case <-ticker.C:
			elapsed := p.elapsed().Milliseconds()
			for next < len(subs) && subs[next].BeginTime <= elapsed {
				p.progress(subs[next], &lastIndex)
				next++
			}
		case <-ctx.Done():
			<-done
			return
		}
	}
}

// elapsed is playback time of the unit in flight, excluding paused spans.
func (p *Player) elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := time.Since(p.unitStart) - p.pausedTotal
	if p.state == StatePaused {
		d -= time.Since(p.pausedAt)
	}
	return d
}

// progress emits one subtitle entry, keeping indices non-decreasing even if
// the backend list is unsorted.
func (p *Player) progress(s transport.Subtitle, lastIndex *int) {
	if s.BeginIndex < *lastIndex {
		return
	}
	*lastIndex = s.BeginIndex
	word, index := s.Text, s.BeginIndex
	p.emit(func() {
		if p.cb.OnPlayProgress != nil {
			p.cb.OnPlayProgress(word, index)
		}
	})
}

func (p *Player) reportError(perr *shared.PlayerError, u Unit) {
	p.log.Warn("playback error", "utterance_id", u.UtteranceID, "error", perr)
	p.emit(func() {
		if p.cb.OnPlayError != nil {
			p.cb.OnPlayError(perr)
		}
	})
}

// emit hands a callback to the delivery goroutine, keeping the per-listener
// serialization guarantee. Events are dropped only during close.
func (p *Player) emit(fn func()) {
	select {
	case p.events <- fn:
	case <-p.ctx.Done():
		select {
		case p.events <- fn:
		default:
		}
	}
}

func (p *Player) deliver() {
	defer close(p.dispatched)
	for fn := range p.events {
		fn()
	}
}

// assumed output format when nothing better is known: 16 kHz mono 16-bit PCM
const pcmBytesPerSecond = 32000

// estimateDuration guesses how long a payload plays. Subtitle timing wins
// when present, then a WAV header probe, then a raw PCM estimate.
func estimateDuration(audio []byte, subs []transport.Subtitle) time.Duration {
	var last int64
	for _, s := range subs {
		if s.EndTime > last {
			last = s.EndTime
		}
	}
	if last > 0 {
		return time.Duration(last) * time.Millisecond
	}
	if len(audio) > 12 && bytes.HasPrefix(audio, []byte("RIFF")) {
		if d, err := wav.NewDecoder(bytes.NewReader(audio)).Duration(); err == nil && d > 0 {
			return d
		}
	}
	return time.Duration(len(audio)) * time.Second / pcmBytesPerSecond
}
