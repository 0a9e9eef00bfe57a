package cdpconn

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto"
)

// Subscription is an unbounded single-consumer queue of notifications. The
// read loop never blocks on it, so a slow consumer cannot stall command
// responses on the same channel.
type Subscription struct {
	conn *Conn

	mu     sync.Mutex
	queue  []*cdproto.Message
	closed bool
	err    error

	notify chan struct{}
	done   chan struct{}
}

func (s *Subscription) push(msg *cdproto.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued notification, blocking until one arrives,
// ctx is done, or the subscription is closed. Messages queued before Close
// are not returned after it.
func (s *Subscription) Next(ctx context.Context) (*cdproto.Message, error) {
	for {
		s.mu.Lock()
		if s.closed {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return nil, err
		}
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Done is closed when the subscription stops delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription from its channel and drops anything still
// queued. Safe to call more than once.
func (s *Subscription) Close() {
	if s.close(nil) && s.conn != nil {
		s.conn.unsubscribe(s)
	}
}

func (s *Subscription) close(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	s.queue = nil
	close(s.done)
	return true
}
