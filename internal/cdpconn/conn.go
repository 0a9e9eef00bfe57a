// Package cdpconn is a single DevTools protocol channel: one websocket to one
// endpoint (the browser or a page), with request/response correlation and a
// queue of notifications for whoever is listening.
package cdpconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

var (
	// ErrClosed is returned for calls made after the channel was closed locally.
	ErrClosed = errors.New("cdp connection closed")
	// ErrMalformed marks a message that could not be encoded or decoded.
	ErrMalformed = errors.New("malformed cdp message")
)

var emptyObj = jsontext.Value("{}")

// Transport is the framed message stream under a Conn. *chromedp.Conn
// satisfies it; tests plug in in-memory fakes.
type Transport interface {
	Read(context.Context, *cdproto.Message) error
	Write(context.Context, *cdproto.Message) error
	io.Closer
}

var _ Transport = (*chromedp.Conn)(nil)
var _ cdp.Executor = (*Conn)(nil)

// Dial opens a websocket to a DevTools endpoint such as
// ws://127.0.0.1:9222/devtools/browser/<id>.
func Dial(ctx context.Context, urlstr string) (Transport, error) {
	conn, err := chromedp.DialContext(ctx, urlstr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Conn multiplexes commands and notifications over one Transport. A single
// read goroutine delivers responses to their waiting callers and copies
// notifications into every open Subscription.
type Conn struct {
	t   Transport
	log *slog.Logger

	lastID atomic.Int64
	wmu    sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *cdproto.Message
	subs    map[*Subscription]struct{}
	closing bool

	done chan struct{}
	err  error
}

// New starts the read loop over t.
func New(t Transport, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	c := &Conn{
		t:       t,
		log:     log,
		pending: make(map[int64]chan *cdproto.Message),
		subs:    make(map[*Subscription]struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	for {
		msg := new(cdproto.Message)
		if err := c.t.Read(context.Background(), msg); err != nil {
			c.shutdown(err)
			return
		}
		switch {
		case msg.Method != "":
			c.deliver(msg)
		case msg.ID != 0:
			c.resolve(msg)
		default:
			c.log.Debug("cdp message without id or method dropped")
		}
	}
}

func (c *Conn) resolve(msg *cdproto.Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		if msg.Error != nil {
			c.log.Debug("cdp unmatched error response", "id", msg.ID, "err", msg.Error.Error())
		}
		return
	}
	ch <- msg
}

func (c *Conn) deliver(msg *cdproto.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		s.push(msg)
	}
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.closing {
		err = ErrClosed
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
	}
	c.err = err
	close(c.done)
	subs := c.subs
	c.subs = make(map[*Subscription]struct{})
	c.mu.Unlock()

	for s := range subs {
		s.close(err)
	}
	if !errors.Is(err, ErrClosed) {
		c.log.Warn("cdp connection lost", "err", err)
	}
}

// Done is closed once the channel stops delivering messages.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the channel stopped; nil while it is still open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Conn) write(ctx context.Context, id int64, method string, params any) error {
	buf := emptyObj
	if params != nil {
		var err error
		if buf, err = json.Marshal(params); err != nil {
			return fmt.Errorf("%w: marshal %s params: %v", ErrMalformed, method, err)
		}
	}
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.t.Write(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	return nil
}

// Execute sends a command and waits for its response, decoding the result
// into res when res is non-nil. A protocol-level error response is returned
// as *cdproto.Error.
func (c *Conn) Execute(ctx context.Context, method string, params, res any) error {
	id := c.lastID.Add(1)
	ch := make(chan *cdproto.Message, 1)

	c.mu.Lock()
	if err := c.closedErrLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, id, method, params); err != nil {
		return err
	}

	select {
	case msg := <-ch:
		switch {
		case msg.Error != nil:
			return msg.Error
		case res != nil && len(msg.Result) > 0:
			if err := json.Unmarshal(msg.Result, res); err != nil {
				return fmt.Errorf("%w: decode %s result: %v", ErrMalformed, method, err)
			}
		}
		return nil
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes a command without waiting for its response.
func (c *Conn) Send(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	err := c.closedErrLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.write(ctx, c.lastID.Add(1), method, params)
}

func (c *Conn) closedErrLocked() error {
	select {
	case <-c.done:
		return c.err
	default:
	}
	if c.closing {
		return ErrClosed
	}
	return nil
}

// Close releases the transport. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err := c.t.Close()
	<-c.done
	return err
}

// Subscribe attaches a new notification queue. Every notification that
// arrives after Subscribe returns is queued until Next consumes it or the
// subscription is closed.
func (c *Conn) Subscribe() *Subscription {
	s := &Subscription{
		conn:   c,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		s.closed = true
		s.err = c.err
		close(s.done)
		return s
	default:
	}
	c.subs[s] = struct{}{}
	return s
}

func (c *Conn) unsubscribe(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}
