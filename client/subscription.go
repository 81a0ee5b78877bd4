package client

import "sync"

// Subscription delivers snapshots to the composition layer. Only the latest
// snapshot is kept when the reader falls behind.
type Subscription struct {
	c      *Client
	ch     chan Snapshot
	once   sync.Once
	closed bool
}

// Subscribe registers for snapshots. The current snapshot is delivered
// immediately. The channel is closed on Cancel or when the client stops.
func (c *Client) Subscribe() *Subscription {
	sub := &Subscription{c: c, ch: make(chan Snapshot, 1)}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subsClosed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	sub.ch <- c.snapshot()
	c.subs[sub] = struct{}{}
	return sub
}

// C returns the snapshot channel.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Cancel unregisters the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.c.subMu.Lock()
		defer s.c.subMu.Unlock()
		delete(s.c.subs, s)
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	})
}

// offer replaces any undelivered snapshot with snap. Callers hold subMu.
func (s *Subscription) offer(snap Snapshot) {
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

func (c *Client) closeSubscriptions() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subsClosed = true
	for sub := range c.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(c.subs, sub)
	}
}
