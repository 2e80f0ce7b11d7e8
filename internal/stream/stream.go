package stream

import (
	"context"
	"sync"

	"civicguard.org/internal/crisis"
)

// Stream fans crisis snapshots out to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan crisis.Snapshot
	next int
	last *crisis.Snapshot
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan crisis.Snapshot)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// snapshots, starting with the most recent one when there is one.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan crisis.Snapshot {
	ch := make(chan crisis.Snapshot, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	if s.last != nil {
		ch <- *s.last
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the snapshot to all subscribers.
func (s *Stream) Publish(snap crisis.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &snap
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drop when subscriber is slow to avoid blocking the machine.
		}
	}
}

// CrisisChanged implements crisis.Observer.
func (s *Stream) CrisisChanged(snap crisis.Snapshot) { s.Publish(snap) }

// Subscribers reports how many clients are attached.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
