package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/pinchtab/pinchpdf/internal/cdpconn"
	"github.com/pinchtab/pinchpdf/internal/countdown"
)

// NavigateRequest describes one page load. Exactly one of URL and HTML must
// be set.
type NavigateRequest struct {
	URL  string
	HTML string

	Headers      map[string]string
	CacheEnabled bool
	SafeURLs     []string
	Blacklist    []string
	LogNetwork   bool

	// Timer bounds the whole navigation; nil waits indefinitely.
	Timer *countdown.Timer
	// MediaLoadTimeout, when positive, completes the navigation this long
	// after DOMContentLoaded even if the network never goes idle.
	MediaLoadTimeout time.Duration
}

func (r NavigateRequest) Validate() error {
	switch {
	case r.URL == "" && r.HTML == "":
		return fmt.Errorf("%w: navigation needs a url or an html document", ErrInvalidRequest)
	case r.URL != "" && r.HTML != "":
		return fmt.Errorf("%w: navigation takes a url or an html document, not both", ErrInvalidRequest)
	case r.MediaLoadTimeout < 0:
		return fmt.Errorf("%w: negative media load timeout", ErrInvalidRequest)
	}
	return nil
}

func (r NavigateRequest) target() string {
	if r.URL != "" {
		return r.URL
	}
	return "inline document"
}

type navState int

const (
	stateIdle navState = iota
	stateConfiguring
	stateNavigating
	stateAwaiting
	stateCompleted
	stateFailed
	stateTimedOut
	stateTornDown
)

var navStateNames = [...]string{"idle", "configuring", "navigating", "awaiting", "completed", "failed", "timed-out", "torn-down"}

func (s navState) String() string {
	if int(s) < len(navStateNames) {
		return navStateNames[s]
	}
	return fmt.Sprintf("navState(%d)", int(s))
}

func (s navState) terminal() bool {
	return s == stateCompleted || s == stateFailed || s == stateTimedOut
}

// navigation is the state of one Navigate call. The dispatcher goroutine and
// the media grace timer feed it events; the caller's goroutine drives the
// configure and teardown phases and waits on done.
type navigation struct {
	d      *Driver
	req    NavigateRequest
	policy *InterceptPolicy
	log    *slog.Logger

	mu         sync.Mutex
	state      navState
	awaitIdle  bool
	// answered is set once the navigate response has been seen; a load
	// that settles before then is held in settled until it arrives.
	answered   bool
	settled    bool
	mediaTimer *time.Timer
	outcome    error
	done       chan struct{}

	fetchEnabled   bool
	networkEnabled bool
	pageEnabled    bool
}

func (n *navigation) transition(to navState) {
	n.mu.Lock()
	from := n.state
	if from.terminal() && to != stateTornDown {
		n.mu.Unlock()
		return
	}
	n.state = to
	n.mu.Unlock()
	n.log.Debug("navigation state", "from", from.String(), "to", to.String())
}

// finish records the outcome. Only the first call has any effect.
func (n *navigation) finish(outcome error) {
	to := stateCompleted
	switch {
	case errors.Is(outcome, ErrTimeout):
		to = stateTimedOut
	case outcome != nil:
		to = stateFailed
	}

	n.mu.Lock()
	if n.state.terminal() || n.state == stateTornDown {
		n.mu.Unlock()
		return
	}
	from := n.state
	n.state = to
	n.outcome = outcome
	close(n.done)
	n.mu.Unlock()
	n.log.Debug("navigation state", "from", from.String(), "to", to.String())
}

func (n *navigation) result() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outcome
}

// settle completes the navigation successfully, or defers completion until
// the navigate response has been processed so that an error reported there
// takes precedence over events that raced ahead of it.
func (n *navigation) settle() {
	n.mu.Lock()
	if !n.answered {
		n.settled = true
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	n.finish(nil)
}

func (n *navigation) armIdleWait() {
	n.mu.Lock()
	n.awaitIdle = true
	n.mu.Unlock()
}

func (n *navigation) startMediaTimer() {
	if n.req.MediaLoadTimeout <= 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mediaTimer != nil || n.state.terminal() {
		return
	}
	n.log.Debug("media load grace started", "timeout", n.req.MediaLoadTimeout)
	n.mediaTimer = time.AfterFunc(n.req.MediaLoadTimeout, func() {
		n.log.Info("media load grace elapsed, continuing without network idle")
		n.settle()
	})
}

func (n *navigation) stopMediaTimer() {
	n.mu.Lock()
	t := n.mediaTimer
	n.mediaTimer = nil
	n.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Navigate loads the request's URL or inline document into the page and
// blocks until it has finished loading, failed, or run out of time.
func (d *Driver) Navigate(ctx context.Context, req NavigateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Timer.Expired() {
		return fmt.Errorf("%w: no time left to navigate to %s", ErrTimeout, req.target())
	}

	n := &navigation{
		d:      d,
		req:    req,
		policy: NewInterceptPolicy(req.URL, req.SafeURLs, req.Blacklist),
		log:    d.log.With("target", req.target()),
		done:   make(chan struct{}),
	}
	n.log.Info("navigating")
	start := time.Now()

	var (
		sub     *cdpconn.Subscription
		stopped chan struct{}
	)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer func() {
		n.teardown()
		if sub != nil {
			sub.Close()
		}
		stopDispatch()
		if stopped != nil {
			<-stopped
		}
		n.transition(stateTornDown)
	}()

	n.transition(stateConfiguring)
	if err := n.configure(ctx); err != nil {
		return err
	}

	sub = d.page.Subscribe()
	stopped = make(chan struct{})
	go n.dispatch(dispatchCtx, sub, stopped)

	n.transition(stateNavigating)
	if err := n.navigate(ctx); err != nil {
		return err
	}
	n.transition(stateAwaiting)

	if err := n.wait(ctx); err != nil {
		return err
	}
	if err := n.result(); err != nil {
		n.log.Warn("navigation failed", "err", err, "elapsed", time.Since(start))
		return err
	}
	n.log.Info("navigation complete", "elapsed", time.Since(start))
	return nil
}

func (n *navigation) configure(ctx context.Context) error {
	d, req := n.d, n.req
	if len(req.Headers) > 0 {
		headers := make(network.Headers, len(req.Headers))
		for k, v := range req.Headers {
			headers[k] = v
		}
		if err := d.call(ctx, req.Timer, d.page, network.CommandSetExtraHTTPHeaders, network.SetExtraHTTPHeaders(headers), nil); err != nil {
			return err
		}
	}
	if req.LogNetwork {
		if err := d.call(ctx, req.Timer, d.page, network.CommandEnable, network.Enable(), nil); err != nil {
			return err
		}
		n.networkEnabled = true
	}
	if err := d.call(ctx, req.Timer, d.page, network.CommandSetCacheDisabled, network.SetCacheDisabled(!req.CacheEnabled), nil); err != nil {
		return err
	}
	if n.policy.Active() {
		if err := d.call(ctx, req.Timer, d.page, fetch.CommandEnable, fetch.Enable(), nil); err != nil {
			return err
		}
		n.fetchEnabled = true
	}
	n.pageEnabled = true
	if err := d.call(ctx, req.Timer, d.page, page.CommandSetLifecycleEventsEnabled, page.SetLifecycleEventsEnabled(true), nil); err != nil {
		return err
	}
	return d.call(ctx, req.Timer, d.page, page.CommandEnable, page.Enable(), nil)
}

// navigate sends the command that starts the load. The subscription must
// already be attached.
func (n *navigation) navigate(ctx context.Context) error {
	d, req := n.d, n.req
	if req.URL != "" {
		var res navigateResult
		if err := d.call(ctx, req.Timer, d.page, page.CommandNavigate, page.Navigate(req.URL), &res); err != nil {
			return err
		}
		n.onNavigateResult(res)
		return nil
	}

	var tree frameTreeResult
	if err := d.call(ctx, req.Timer, d.page, page.CommandGetFrameTree, page.GetFrameTree(), &tree); err != nil {
		return err
	}
	frameID := tree.FrameTree.Frame.ID
	if frameID == "" {
		return fmt.Errorf("%w: %s returned no frame id", ErrProtocol, page.CommandGetFrameTree)
	}
	if err := d.call(ctx, req.Timer, d.page, page.CommandSetDocumentContent, page.SetDocumentContent(frameID, req.HTML), nil); err != nil {
		return err
	}
	// setting content never produces Page.frameNavigated
	n.armIdleWait()
	n.onNavigateResult(navigateResult{})
	return nil
}

func (n *navigation) onNavigateResult(res navigateResult) {
	n.mu.Lock()
	n.answered = true
	settled := n.settled
	n.mu.Unlock()

	switch res.ErrorText {
	case "":
	case errBlockedByClient:
		n.log.Debug("navigation reported blocked by client, ignored")
	default:
		n.finish(&NavigationError{URL: n.req.URL, Text: res.ErrorText})
		return
	}
	if settled {
		n.finish(nil)
	}
}

func (n *navigation) wait(ctx context.Context) error {
	wctx, cancel := n.req.Timer.Context(ctx)
	defer cancel()

	select {
	case <-n.done:
	case <-n.d.page.Done():
		n.finish(fmt.Errorf("%w: page channel closed while loading %s: %v", ErrConnection, n.req.target(), n.d.page.Err()))
	case <-wctx.Done():
		if ctx.Err() != nil {
			n.finish(ctx.Err())
			return ctx.Err()
		}
		n.finish(fmt.Errorf("%w: %s did not finish loading in time", ErrTimeout, n.req.target()))
	}
	return nil
}

func (n *navigation) dispatch(ctx context.Context, sub *cdpconn.Subscription, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		n.handle(ctx, msg)
	}
}

func (n *navigation) handle(ctx context.Context, msg *cdproto.Message) {
	switch {
	case isNetworkEvent(msg.Method):
		n.logNetwork(msg)

	case msg.Method == cdproto.EventFetchRequestPaused:
		var ev pausedRequest
		if err := decode(msg, &ev); err != nil {
			n.log.Warn("undecodable paused request", "err", err)
			return
		}
		n.intercept(ctx, ev)

	case msg.Method == cdproto.EventPageLifecycleEvent:
		var ev lifecycleEvent
		if err := decode(msg, &ev); err != nil {
			n.log.Debug("undecodable lifecycle event", "err", err)
			return
		}
		switch ev.Name {
		case lifecycleDOMContentLoaded:
			n.startMediaTimer()
		case lifecycleNetworkIdle:
			n.mu.Lock()
			armed := n.awaitIdle
			n.mu.Unlock()
			if armed {
				n.settle()
			}
		}

	case msg.Method == cdproto.EventPageFrameNavigated:
		var ev frameNavigated
		if err := decode(msg, &ev); err == nil {
			n.log.Debug("frame navigated", "frame", string(ev.Frame.ID), "url", ev.Frame.URL)
		}
		n.armIdleWait()
	}
}

func (n *navigation) intercept(ctx context.Context, ev pausedRequest) {
	dec := n.policy.Decide(ev.Request.URL)
	if dec.Allow {
		if dec.Rule != "" {
			n.log.Debug("request allowed", "url", ev.Request.URL, "rule", dec.Rule)
		}
		if err := n.d.page.Execute(ctx, fetch.CommandContinueRequest, fetch.ContinueRequest(ev.RequestID), nil); err != nil {
			n.log.Debug("continue request", "url", ev.Request.URL, "err", err)
		}
		return
	}
	n.log.Info("request blocked", "url", ev.Request.URL, "rule", dec.Rule)
	if err := n.d.page.Execute(ctx, fetch.CommandFailRequest, fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient), nil); err != nil {
		n.log.Debug("fail request", "url", ev.Request.URL, "err", err)
	}
}

func (n *navigation) logNetwork(msg *cdproto.Message) {
	if !n.req.LogNetwork {
		return
	}
	var ev networkEvent
	if err := decode(msg, &ev); err != nil {
		return
	}
	attrs := []any{"event", string(msg.Method), "request", string(ev.RequestID)}
	switch {
	case ev.Request != nil:
		attrs = append(attrs, "method", ev.Request.Method, "url", ev.Request.URL)
	case ev.Response != nil:
		attrs = append(attrs, "status", ev.Response.Status, "url", ev.Response.URL)
	case ev.ErrorText != "":
		attrs = append(attrs, "error", ev.ErrorText, "canceled", ev.Canceled)
	case ev.DataLength > 0:
		attrs = append(attrs, "bytes", ev.DataLength)
	}
	n.log.Info("network", attrs...)
}

// teardown undoes whatever configure enabled, in reverse dependency order.
// It runs on a fresh context so that a timed-out or cancelled navigation
// still leaves the page quiet for the next caller.
func (n *navigation) teardown() {
	n.stopMediaTimer()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	p := n.d.page
	step := func(method string, params any) {
		if err := p.Execute(ctx, method, params, nil); err != nil {
			n.log.Debug("teardown step failed", "method", method, "err", err)
		}
	}
	if n.pageEnabled {
		step(page.CommandSetLifecycleEventsEnabled, page.SetLifecycleEventsEnabled(false))
		step(page.CommandDisable, page.Disable())
	}
	if n.fetchEnabled {
		step(fetch.CommandDisable, fetch.Disable())
	}
	if n.networkEnabled {
		step(network.CommandDisable, network.Disable())
	}
}
