package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Bus is an in-process relay. Each subscription has its own ordered
// delivery goroutine so a slow callback never blocks publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Handle]*subscription
	closed bool

	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int
}

type subscription struct {
	handle   Handle
	filter   Filter
	onChange func(models.Change)

	mu      sync.Mutex
	queue   []models.Change
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewBus creates an empty in-process relay.
func NewBus() *Bus {
	b := &Bus{subs: make(map[Handle]*subscription)}
	b.pendingCond = sync.NewCond(&b.pendingMu)
	return b
}

// Subscribe registers onChange for changes matching filter.
func (b *Bus) Subscribe(_ context.Context, filter Filter, onChange func(models.Change)) (Handle, error) {
	if err := filter.Validate(); err != nil {
		return "", fmt.Errorf("invalid filter: %w", err)
	}
	if onChange == nil {
		return "", fmt.Errorf("onChange callback is required")
	}

	sub := &subscription{
		handle:   Handle(uuid.NewString()),
		filter:   filter,
		onChange: onChange,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("bus closed")
	}
	b.subs[sub.handle] = sub
	b.mu.Unlock()

	go b.deliver(sub)

	log.Debug().Str("handle", string(sub.handle)).Str("filter", filter.Key()).Msg("bus subscription added")
	return sub.handle, nil
}

// Unsubscribe stops delivery for handle. Queued changes are dropped.
func (b *Bus) Unsubscribe(handle Handle) error {
	b.mu.Lock()
	sub, ok := b.subs[handle]
	delete(b.subs, handle)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown subscription %q", handle)
	}
	b.stop(sub)
	return nil
}

// Publish fans change out to every matching subscription.
func (b *Bus) Publish(_ context.Context, change models.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}

	for _, sub := range b.subs {
		if !sub.filter.Matches(change) {
			continue
		}
		sub.mu.Lock()
		if sub.stopped {
			sub.mu.Unlock()
			continue
		}
		sub.queue = append(sub.queue, change)
		b.addPending(1)
		sub.mu.Unlock()

		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Wait blocks until every queued change has been delivered, including
// changes published by callbacks while waiting.
func (b *Bus) Wait() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for b.pending > 0 {
		b.pendingCond.Wait()
	}
}

// Subscriptions returns the number of live subscriptions.
func (b *Bus) Subscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[Handle]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		b.stop(sub)
	}
	return nil
}

func (b *Bus) stop(sub *subscription) {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	sub.stopped = true
	dropped := len(sub.queue)
	sub.queue = nil
	sub.mu.Unlock()

	close(sub.done)
	b.addPending(-dropped)
	log.Debug().Str("handle", string(sub.handle)).Int("dropped", dropped).Msg("bus subscription removed")
}

func (b *Bus) deliver(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		for {
			sub.mu.Lock()
			if sub.stopped || len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			change := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			sub.onChange(change)
			b.addPending(-1)
		}
	}
}

func (b *Bus) addPending(n int) {
	if n == 0 {
		return
	}
	b.pendingMu.Lock()
	b.pending += n
	if b.pending <= 0 {
		b.pending = 0
		b.pendingCond.Broadcast()
	}
	b.pendingMu.Unlock()
}
