package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/target/mmk-pageshot/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a job of the given kind is enqueued.
type Waiter interface {
	WaitForNotification(ctx context.Context, kind model.JobKind) error
}

// Notifier fans "work available" signals out to workers of one job kind.
type Notifier interface {
	Subscribe(kind model.JobKind) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the default notifier.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier runs one listener per kind with at least one subscriber.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[model.JobKind]map[chan struct{}]struct{}
	listeners map[model.JobKind]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		subs:       make(map[model.JobKind]map[chan struct{}]struct{}),
		listeners:  make(map[model.JobKind]context.CancelFunc),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = time.Minute
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	return n, nil
}

// Subscribe returns a coalescing signal channel for kind and its unsubscribe func.
func (n *DefaultNotifier) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, running := n.listeners[kind]; !running {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[kind] = cancel
		go n.listen(ctx, kind)
	}

	ch := make(chan struct{}, 1)
	if n.subs[kind] == nil {
		n.subs[kind] = make(map[chan struct{}]struct{})
	}
	n.subs[kind][ch] = struct{}{}

	var once sync.Once
	return func() { once.Do(func() { n.unsubscribe(kind, ch) }) }, ch
}

func (n *DefaultNotifier) unsubscribe(kind model.JobKind, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set := n.subs[kind]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	drainAndClose(ch)
	if len(set) > 0 {
		return
	}
	delete(n.subs, kind)
	if cancel, ok := n.listeners[kind]; ok {
		cancel()
		delete(n.listeners, kind)
	}
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for kind, cancel := range n.listeners {
		cancel()
		delete(n.listeners, kind)
	}
	for kind, set := range n.subs {
		for ch := range set {
			drainAndClose(ch)
		}
		delete(n.subs, kind)
	}
}

// listen wakes subscribers after every wait window, notification or not,
// so a missed NOTIFY costs at most one window of latency.
func (n *DefaultNotifier) listen(ctx context.Context, kind model.JobKind) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, kind)
		cancel()

		n.broadcast(kind)

		if err == nil || ctx.Err() != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.backoff):
		}
	}
}

func (n *DefaultNotifier) broadcast(kind model.JobKind) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[kind] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func drainAndClose(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
	close(ch)
}

var _ Notifier = (*DefaultNotifier)(nil)
