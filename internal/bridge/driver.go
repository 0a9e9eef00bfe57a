package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/pinchtab/pinchpdf/internal/cdpconn"
	"github.com/pinchtab/pinchpdf/internal/countdown"
)

const (
	blankPage       = "about:blank"
	teardownTimeout = 5 * time.Second
)

// Dialer opens the transport for one DevTools endpoint.
type Dialer func(ctx context.Context, url string) (cdpconn.Transport, error)

// Driver controls one page target through two channels: the browser endpoint
// (target management) and the page endpoint (everything else). A Driver is
// meant for one conversion at a time; its methods must not be called
// concurrently except Close.
type Driver struct {
	instanceID string
	targetID   target.ID
	pageURL    string
	log        *slog.Logger

	browser *cdpconn.Conn
	page    *cdpconn.Conn

	closeTarget bool

	closeMu sync.Mutex
	closed  bool
}

type options struct {
	dial        Dialer
	log         *slog.Logger
	closeTarget bool
}

type Option func(*options)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dial = d }
}

// WithLogger sets the parent logger; the driver adds an "instance" attribute.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTargetClose makes Close close only the page target instead of the whole
// browser, for browsers shared between drivers.
func WithTargetClose() Option {
	return func(o *options) { o.closeTarget = true }
}

// Open connects to the browser endpoint, creates a blank page target and
// connects to that page. Both dials and the target creation must finish
// within connectTimeout (zero means no limit beyond ctx).
func Open(ctx context.Context, endpoint, instanceID string, connectTimeout time.Duration, opts ...Option) (*Driver, error) {
	o := options{dial: cdpconn.Dial, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.With("instance", instanceID)

	base, err := url.Parse(endpoint)
	if err != nil || base.Host == "" || (base.Scheme != "ws" && base.Scheme != "wss") {
		return nil, fmt.Errorf("%w: invalid browser endpoint %q", ErrConnection, endpoint)
	}

	octx, cancel := ctx, context.CancelFunc(func() {})
	if connectTimeout > 0 {
		octx, cancel = context.WithTimeout(ctx, connectTimeout)
	}
	defer cancel()

	log.Debug("connecting to browser", "endpoint", endpoint)
	bt, err := o.dial(octx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: open browser channel %s: %v", ErrConnection, endpoint, err)
	}
	bconn := cdpconn.New(bt, log.With("endpoint", "browser"))

	var created struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := bconn.Execute(octx, target.CommandCreateTarget, target.CreateTarget(blankPage), &created); err != nil {
		_ = bconn.Close()
		if kind := classify(target.CommandCreateTarget, err, nil); errors.Is(kind, ErrProtocol) {
			return nil, kind
		}
		return nil, fmt.Errorf("%w: create target: %v", ErrConnection, err)
	}
	if created.TargetID == "" {
		_ = bconn.Close()
		return nil, fmt.Errorf("%w: %s returned no target id", ErrProtocol, target.CommandCreateTarget)
	}

	pageURL := pageEndpoint(base, created.TargetID)
	pt, err := o.dial(octx, pageURL)
	if err != nil {
		_ = bconn.Close()
		return nil, fmt.Errorf("%w: open page channel %s: %v", ErrConnection, pageURL, err)
	}

	d := &Driver{
		instanceID:  instanceID,
		targetID:    created.TargetID,
		pageURL:     pageURL,
		log:         log,
		browser:     bconn,
		page:        cdpconn.New(pt, log.With("endpoint", "page")),
		closeTarget: o.closeTarget,
	}
	log.Info("page target opened", "target", string(created.TargetID))
	return d, nil
}

// pageEndpoint keeps the scheme, host and port of the browser endpoint.
func pageEndpoint(base *url.URL, id target.ID) string {
	u := url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/devtools/page/" + string(id)}
	return u.String()
}

func (d *Driver) InstanceID() string { return d.instanceID }

func (d *Driver) TargetID() target.ID { return d.targetID }

func (d *Driver) PageURL() string { return d.pageURL }

// call runs one command on c, bounded by the countdown's current remaining
// budget when timer is non-nil.
func (d *Driver) call(ctx context.Context, timer *countdown.Timer, c *cdpconn.Conn, method string, params, res any) error {
	if timer.Expired() {
		return fmt.Errorf("%w: no time left for %s", ErrTimeout, method)
	}
	cctx, cancel := timer.Context(ctx)
	defer cancel()
	return classify(method, c.Execute(cctx, method, params, res), timer)
}

// Close disposes of the target (or the browser) and releases both channels.
// Only the first call does anything.
func (d *Driver) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	var err error
	if d.closeTarget {
		err = d.browser.Execute(ctx, target.CommandCloseTarget, target.CloseTarget(d.targetID), nil)
	} else {
		err = d.browser.Execute(ctx, browser.CommandClose, browser.Close(), nil)
	}
	if err != nil {
		// the browser often drops the socket before answering Browser.close
		d.log.Debug("close command", "err", err)
	}

	var errs []error
	for _, c := range []*cdpconn.Conn{d.page, d.browser} {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, cdpconn.ErrClosed) {
			errs = append(errs, cerr)
		}
	}
	d.log.Info("driver closed")
	if len(errs) > 0 {
		d.log.Debug("channel close", "err", errors.Join(errs...))
	}
	return nil
}

// CloseAsync runs Close in the background; the channel yields its result.
func (d *Driver) CloseAsync() <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- d.Close()
	}()
	return ch
}
