package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(Event) PublishResult
}

// PublishResult reports how many subscribers received an event and how many
// were skipped because their queue was full.
type PublishResult struct {
	SentTo  int
	Dropped int
}

type subscription struct {
	ch    chan Event
	kinds map[Kind]struct{}
}

func (s *subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus is an in-process fan-out of typed events. Publish never blocks: a
// subscriber that does not keep up loses events rather than stalling the
// producer's schedule.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	next   uint64
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe returns a channel receiving events of the given kinds (all kinds
// when none are given) and a function that cancels the subscription.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *Bus) Publish(ev Event) PublishResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := PublishResult{}
	for _, sub := range b.subs {
		if !sub.wants(ev.Kind()) {
			continue
		}
		select {
		case sub.ch <- ev:
			res.SentTo++
		default:
			res.Dropped++
		}
	}
	if res.Dropped > 0 {
		log.Warn().Str("module", "events").Str("kind", string(ev.Kind())).Int("dropped", res.Dropped).Msg("subscriber queue full")
	}
	return res
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
