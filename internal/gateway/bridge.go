package gateway

import (
	"log/slog"
	"sync"

	"github.com/avelar-io/ttskit/internal/player"
)

// Sink consumes completed audio units. *player.Player satisfies it.
type Sink interface {
	Enqueue(u player.Unit) error
}

// Bridge fans completed synthesis units out to the playback connections that
// are subscribed when the unit arrives. Late subscribers miss earlier units.
type Bridge struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]Sink
}

func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:  log.With("component", "bridge"),
		subs: make(map[string]Sink),
	}
}

func (b *Bridge) Subscribe(id string, s Sink) {
	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()
}

func (b *Bridge) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func (b *Bridge) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers a unit to every subscriber. A full or closed subscriber
// queue drops the unit for that subscriber only.
func (b *Bridge) Publish(u player.Unit) {
	b.mu.RLock()
	subs := make(map[string]Sink, len(b.subs))
	for id, s := range b.subs {
		subs[id] = s
	}
	b.mu.RUnlock()

	for id, s := range subs {
		if err := s.Enqueue(u); err != nil {
			b.log.Warn("subscriber rejected unit", "subscriber", id, "utterance_id", u.UtteranceID, "error", err)
		}
	}
}
