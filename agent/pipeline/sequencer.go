package pipeline

import (
	"context"
	"sync"
)

// Sequencer orders turns within a conversation. A ticket is taken
// synchronously when a turn is accepted; holders proceed in ticket order.
type Sequencer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func NewSequencer() *Sequencer {
	return &Sequencer{tails: make(map[string]chan struct{})}
}

// Ticket is a place in a conversation's queue.
type Ticket struct {
	s    *Sequencer
	key  string
	prev <-chan struct{}
	done chan struct{}
	once sync.Once
}

// Ticket enqueues behind the newest ticket for key.
func (s *Sequencer) Ticket(key string) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &Ticket{s: s, key: key, prev: s.tails[key], done: make(chan struct{})}
	s.tails[key] = t.done
	return t
}

// Len returns the number of conversations with queued tickets.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}

// Wait blocks until every earlier ticket for the same key is done.
func (t *Ticket) Wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done releases the next ticket. A ticket abandoned before its turn still
// releases its successor only after its own predecessor is done. Safe to
// call more than once.
func (t *Ticket) Done() {
	t.once.Do(func() {
		if t.prev == nil {
			t.release()
			return
		}
		select {
		case <-t.prev:
			t.release()
		default:
			go func() {
				<-t.prev
				t.release()
			}()
		}
	})
}

func (t *Ticket) release() {
	close(t.done)
	t.s.mu.Lock()
	if t.s.tails[t.key] == t.done {
		delete(t.s.tails, t.key)
	}
	t.s.mu.Unlock()
}
