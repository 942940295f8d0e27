package remote

import (
	"context"
	"errors"
	"sync"
	"time"
)

const subscriptionBuffer = 32

// PumpFunc produces change events until ctx is done. emit returns false once the
// subscription has been closed; the pump should then return.
type PumpFunc func(ctx context.Context, emit func(ChangeEvent) bool) error

// Subscription delivers the change events of one table until it is closed or its
// source fails. Events() is closed when delivery stops.
type Subscription struct {
	table  Table
	filter EventFilter
	events chan ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewSubscription starts pump in its own goroutine and returns the subscription
// that carries its events.
func NewSubscription(ctx context.Context, table Table, filter EventFilter, pump PumpFunc) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		table:  table,
		filter: filter,
		events: make(chan ChangeEvent, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.events)
		err := pump(ctx, func(ev ChangeEvent) bool { return s.emit(ctx, ev) })
		if err != nil && !errors.Is(err, context.Canceled) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()

	return s
}

func (s *Subscription) emit(ctx context.Context, ev ChangeEvent) bool {
	if ev.Table != s.table || !s.filter.Match(ev.Op) {
		return ctx.Err() == nil
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Table returns the subscribed table.
func (s *Subscription) Table() Table { return s.table }

// Events returns the channel of change events.
func (s *Subscription) Events() <-chan ChangeEvent { return s.events }

// Err returns the error that ended the stream, or nil if it was closed normally.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and waits for the source to release its resources.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}
