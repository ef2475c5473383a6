package livepatch

import (
	"context"
	"errors"
	"sync"
)

// Event is one broadcast about patched types.
type Event struct {
	Name  string
	Types []*TypeHandle
}

// Broadcaster delivers a system-wide event to whoever listens.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, types []*TypeHandle) error
}

// Bus is an in-process Broadcaster. Handlers run synchronously on the
// broadcasting goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
}

type subscription struct {
	id int
	fn func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers fn for event and returns a function removing it.
func (b *Bus) Subscribe(event string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[event]
		for i := range list {
			if list[i].id == id {
				b.subs[event] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Broadcast(_ context.Context, event string, types []*TypeHandle) error {
	b.mu.RLock()
	list := append([]subscription(nil), b.subs[event]...)
	b.mu.RUnlock()

	e := Event{Name: event, Types: append([]*TypeHandle(nil), types...)}
	for _, s := range list {
		s.fn(e)
	}
	return nil
}

// MultiBroadcaster fans one event out to several broadcasters.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Broadcast(ctx context.Context, event string, types []*TypeHandle) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Broadcast(ctx, event, types); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
