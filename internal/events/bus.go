package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufSize = 256

// subscriber is one registered channel; all subscribers ignore topic.
type subscriber struct {
	topic string
	all   bool
	ch    chan Event
}

// EventBus fans run, task and prompt events out to buffered channels.
// Publish never blocks; events for a full subscriber are dropped and counted.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	closed  bool
	dropped atomic.Uint64
}

// NewEventBus returns an open bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel receiving events published on topic.
// bufSize <= 0 selects the default buffer of 256.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.add(&subscriber{topic: topic}, bufSize)
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.add(&subscriber{all: true}, bufSize)
}

func (b *EventBus) add(s *subscriber, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	s.ch = make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch
	}
	b.subs = append(b.subs, s)
	return s.ch
}

// Publish delivers event to the subscribers of topic and to every
// all-topic subscriber. It returns how many topic subscribers missed the
// event because their channel was full; drops at all-topic subscribers are
// only counted in Dropped.
func (b *EventBus) Publish(topic string, event Event) (missed int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	for _, s := range b.subs {
		if !s.all && s.topic != topic {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
			if !s.all {
				missed++
			}
		}
	}
	return missed
}

// Dropped reports how many deliveries were discarded because a subscriber
// channel was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Unsubscribe removes and closes a channel returned by Subscribe or
// SubscribeAll. Unknown channels are ignored.
func (b *EventBus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for i, s := range b.subs {
		if (<-chan Event)(s.ch) == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Close closes every subscriber channel. Further publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
