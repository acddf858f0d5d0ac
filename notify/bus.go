package notify

import (
	"errors"
	"io"
	"sync"
)

// Bus fans a Notification out to every registered Sink synchronously,
// stopping at the first error. Sinks are held in a map, so the order in
// which they are called is not defined, and a failing sink may stop
// delivery to sinks that have not been called yet.
type Bus struct {
	mu    sync.RWMutex
	sinks map[*subscription]Sink
}

type subscription struct {
	bus  *Bus
	once sync.Once
}

// NewBus constructs an empty Bus ready for Register/Notify.
func NewBus() *Bus {
	return &Bus{sinks: make(map[*subscription]Sink)}
}

// Notify delivers n to every currently registered sink. Iteration stops at
// the first error returned by a sink.
func (b *Bus) Notify(n Notification) error {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Notify(n); err != nil {
			return err
		}
	}
	return nil
}

// Register adds sink to the bus, returning a handle that unregisters it on
// Close. Close is idempotent and always returns nil.
func (b *Bus) Register(sink Sink) (io.Closer, error) {
	if sink == nil {
		return nil, errors.New("notify: sink is required")
	}
	sub := &subscription{bus: b}
	b.mu.Lock()
	b.sinks[sub] = sink
	b.mu.Unlock()
	return sub, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.sinks, s)
		s.bus.mu.Unlock()
	})
	return nil
}
