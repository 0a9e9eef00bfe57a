// Package cdptest fakes a DevTools browser for driver tests: a browser
// endpoint and a page endpoint that answer commands through registered
// handlers, record every command they receive, and can push notifications.
package cdptest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/pinchtab/pinchpdf/internal/cdpconn"
)

const (
	KindBrowser = "browser"
	KindPage    = "page"
)

// HandlerFunc answers one command. A returned *cdproto.Error is sent back
// verbatim; any other error becomes a generic protocol error.
type HandlerFunc func(ep *Endpoint, params jsontext.Value) (any, error)

// Call is a command seen by the fake.
type Call struct {
	Endpoint string
	Method   string
	Params   jsontext.Value
}

// Decode unmarshals the call parameters into v.
func (c Call) Decode(v any) error {
	return json.Unmarshal(c.Params, v)
}

// Browser is the fake. The zero value is not usable; call New.
type Browser struct {
	TargetID string
	FrameID  string

	// DialErr, when set, is consulted for every dial.
	DialErr func(url string) error

	mu        sync.Mutex
	handlers  map[string]HandlerFunc
	calls     []Call
	dials     []string
	endpoints map[string]*Endpoint
}

func New() *Browser {
	b := &Browser{
		TargetID:  "TARGET-1",
		FrameID:   "FRAME-1",
		handlers:  make(map[string]HandlerFunc),
		endpoints: make(map[string]*Endpoint),
	}
	b.Handle("Target.createTarget", func(*Endpoint, jsontext.Value) (any, error) {
		return map[string]any{"targetId": b.TargetID}, nil
	})
	b.Handle("Page.getFrameTree", func(*Endpoint, jsontext.Value) (any, error) {
		return map[string]any{
			"frameTree": map[string]any{
				"frame": map[string]any{"id": b.FrameID, "loaderId": "LOADER-1", "url": "about:blank"},
			},
		}, nil
	})
	return b
}

// Handle registers (or replaces) the handler for a method. Unregistered
// methods answer with an empty result.
func (b *Browser) Handle(method string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = fn
}

// Calls returns the recorded commands for method, or all commands when
// method is empty.
func (b *Browser) Calls(method string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, c := range b.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Methods lists the command names received on one endpoint kind, in order.
func (b *Browser) Methods(kind string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.calls {
		if c.Endpoint == kind {
			out = append(out, c.Method)
		}
	}
	return out
}

// Dials returns every URL passed to Dial.
func (b *Browser) Dials() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.dials...)
}

// Endpoint returns the most recently connected endpoint of a kind.
func (b *Browser) Endpoint(kind string) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpoints[kind]
}

func kindOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(u.Path, "/devtools/browser/"):
		return KindBrowser, nil
	case strings.HasPrefix(u.Path, "/devtools/page/"):
		return KindPage, nil
	}
	return "", fmt.Errorf("cdptest: no endpoint at %q", u.Path)
}

// Dial satisfies the driver's dialer: it returns an in-memory transport for
// the browser or page endpoint named by the URL path.
func (b *Browser) Dial(ctx context.Context, rawURL string) (cdpconn.Transport, error) {
	b.mu.Lock()
	b.dials = append(b.dials, rawURL)
	dialErr := b.DialErr
	b.mu.Unlock()

	if dialErr != nil {
		if err := dialErr(rawURL); err != nil {
			return nil, err
		}
	}
	kind, err := kindOf(rawURL)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		in:     make(chan *cdproto.Message, 4096),
		closed: make(chan struct{}),
	}
	t.ep = &Endpoint{Kind: kind, browser: b, send: t.push}
	b.register(t.ep)
	return t, nil
}

func (b *Browser) register(ep *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[ep.Kind] = ep
}

func (b *Browser) handle(ep *Endpoint, msg *cdproto.Message) {
	method := string(msg.Method)
	b.mu.Lock()
	b.calls = append(b.calls, Call{Endpoint: ep.Kind, Method: method, Params: append(jsontext.Value(nil), msg.Params...)})
	fn := b.handlers[method]
	b.mu.Unlock()

	var (
		res any
		err error
	)
	if fn != nil {
		res, err = fn(ep, msg.Params)
	}

	resp := &cdproto.Message{ID: msg.ID}
	if err != nil {
		var perr *cdproto.Error
		if !errors.As(err, &perr) {
			perr = &cdproto.Error{Code: -32000, Message: err.Error()}
		}
		resp.Error = perr
	} else {
		resp.Result = jsontext.Value("{}")
		if res != nil {
			buf, merr := json.Marshal(res)
			if merr != nil {
				resp.Result = nil
				resp.Error = &cdproto.Error{Code: -32603, Message: merr.Error()}
			} else {
				resp.Result = buf
			}
		}
	}
	ep.send(resp)
	ep.flush()
}

// Endpoint is one side of the fake (browser or page).
type Endpoint struct {
	Kind string

	browser *Browser
	send    func(*cdproto.Message)

	mu   sync.Mutex
	post []*cdproto.Message
}

func event(method string, params any) *cdproto.Message {
	buf := jsontext.Value("{}")
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			buf = b
		}
	}
	return &cdproto.Message{Method: cdproto.MethodType(method), Params: buf}
}

// Emit pushes a notification immediately (inside a handler: before the
// command's response).
func (e *Endpoint) Emit(method string, params any) {
	e.send(event(method, params))
}

// EmitAfter queues a notification to be sent right after the response of
// the command currently being handled.
func (e *Endpoint) EmitAfter(method string, params any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.post = append(e.post, event(method, params))
}

func (e *Endpoint) flush() {
	e.mu.Lock()
	post := e.post
	e.post = nil
	e.mu.Unlock()
	for _, m := range post {
		e.send(m)
	}
}

// Transport is the in-memory side handed to cdpconn.
type Transport struct {
	ep     *Endpoint
	in     chan *cdproto.Message
	closed chan struct{}
	once   sync.Once
}

func (t *Transport) push(m *cdproto.Message) {
	select {
	case t.in <- m:
	case <-t.closed:
	}
}

func (t *Transport) Read(ctx context.Context, msg *cdproto.Message) error {
	select {
	case m := <-t.in:
		*msg = *m
		return nil
	case <-t.closed:
		return io.EOF
	}
}

func (t *Transport) Write(ctx context.Context, msg *cdproto.Message) error {
	select {
	case <-t.closed:
		return io.ErrClosedPipe
	default:
	}
	t.ep.browser.handle(t.ep, msg)
	return nil
}

func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// Drop simulates the remote end going away.
func (t *Transport) Drop() {
	_ = t.Close()
}
