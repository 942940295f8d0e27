package remote

import (
	"context"
	"sync"
)

const feedBuffer = 64

// Feed fans change events out to in-process subscribers. Stores without a native
// notification channel publish to it after each committed write.
type Feed struct {
	mu      sync.Mutex
	next    uint64
	subs    map[uint64]chan ChangeEvent
	dropped uint64
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]chan ChangeEvent)}
}

// Publish delivers ev to every attached subscriber. A subscriber whose buffer is full
// misses the event.
func (f *Feed) Publish(ev ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.dropped++
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber lagged.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Subscribe attaches a subscriber before returning, so every event published after
// the call is observed.
func (f *Feed) Subscribe(ctx context.Context, table Table, filter EventFilter) *Subscription {
	id, ch := f.attach()
	return NewSubscription(ctx, table, filter, func(ctx context.Context, emit func(ChangeEvent) bool) error {
		defer f.detach(id)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev := <-ch:
				if !emit(ev) {
					return ctx.Err()
				}
			}
		}
	})
}

func (f *Feed) attach() (uint64, chan ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	ch := make(chan ChangeEvent, feedBuffer)
	f.subs[f.next] = ch
	return f.next, ch
}

func (f *Feed) detach(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}
