package job

import (
	"context"
	"sync"

	"github.com/target/mmk-pageshot/internal/domain/model"
)

const defaultSubscriberBuffer = 64

// Filter selects the events a subscriber receives. Empty fields match anything.
type Filter struct {
	JobID string
	Owner string
	Kind  model.JobKind
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev model.JobEvent) bool {
	if f.JobID != "" && f.JobID != ev.JobID {
		return false
	}
	if f.Owner != "" && f.Owner != ev.Owner {
		return false
	}
	if f.Kind != "" && f.Kind != ev.Kind {
		return false
	}
	return true
}

// BrokerOptions configure a Broker.
type BrokerOptions struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int
	// OnDrop is called when a slow subscriber misses an event.
	OnDrop func(model.JobEvent)
}

type subscriber struct {
	filter Filter
	ch     chan model.JobEvent
}

// Broker is an in-process publish/subscribe hub for job transition events.
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Broker struct {
	buffer int
	onDrop func(model.JobEvent)

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBroker creates a Broker.
func NewBroker(opts BrokerOptions) *Broker {
	buf := opts.Buffer
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	return &Broker{
		buffer: buf,
		onDrop: opts.OnDrop,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Subscribe registers a subscriber. The channel closes when ctx is done,
// the returned cancel func is called, or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context, filter Filter) (<-chan model.JobEvent, func()) {
	sub := &subscriber{filter: filter, ch: make(chan model.JobEvent, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.remove(sub)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers ev to every matching subscriber.
func (b *Broker) Publish(ev model.JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if b.onDrop != nil {
				b.onDrop(ev)
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
