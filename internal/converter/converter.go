// Package converter runs whole conversions: open a page target, load the
// input, optionally run a script and wait for the page to declare itself
// ready, export, close. One countdown covers every step.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pinchtab/pinchpdf/internal/bridge"
	"github.com/pinchtab/pinchpdf/internal/config"
	"github.com/pinchtab/pinchpdf/internal/countdown"
	"github.com/pinchtab/pinchpdf/internal/idutil"
)

type Kind string

const (
	KindPDF        Kind = "pdf"
	KindScreenshot Kind = "screenshot"
	KindSnapshot   Kind = "snapshot"
)

// ParseKind accepts the output names used on the command line and in HTTP
// routes.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPDF, KindScreenshot, KindSnapshot:
		return k, nil
	case "png", "jpeg", "webp":
		return KindScreenshot, nil
	case "mhtml":
		return KindSnapshot, nil
	}
	return "", fmt.Errorf("%w: unknown output %q", bridge.ErrInvalidRequest, s)
}

const windowStatusExpression = "window.status"

// Job is one conversion. Exactly one of URL and HTML must be set.
type Job struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty"`
	HTML string `json:"html,omitempty" yaml:"html,omitempty"`

	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	SafeURLs     []string          `json:"safeUrls,omitempty" yaml:"safeUrls,omitempty"`
	Blacklist    []string          `json:"blacklist,omitempty" yaml:"blacklist,omitempty"`
	BlockPresets []string          `json:"block,omitempty" yaml:"block,omitempty"`
	CacheEnabled *bool             `json:"cacheEnabled,omitempty" yaml:"cacheEnabled,omitempty"`
	LogNetwork   bool              `json:"logNetwork,omitempty" yaml:"logNetwork,omitempty"`

	RunJavascript       string `json:"runJavascript,omitempty" yaml:"runJavascript,omitempty"`
	WaitForWindowStatus string `json:"waitForWindowStatus,omitempty" yaml:"waitForWindowStatus,omitempty"`
	// milliseconds
	WaitForWindowStatusTimeout int `json:"waitForWindowStatusTimeout,omitempty" yaml:"waitForWindowStatusTimeout,omitempty"`
	MediaLoadTimeout           int `json:"mediaLoadTimeout,omitempty" yaml:"mediaLoadTimeout,omitempty"`
	Timeout                    int `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Kind       Kind                      `json:"kind,omitempty" yaml:"kind,omitempty"`
	PDF        bridge.PDFSettings        `json:"pdf" yaml:"pdf"`
	Screenshot bridge.ScreenshotSettings `json:"screenshot" yaml:"screenshot"`
}

// NewJob returns a PDF job for input with default page settings. Inputs
// that look like markup are treated as inline HTML.
func NewJob(input string, kind Kind) Job {
	j := Job{Kind: kind, PDF: bridge.DefaultPDFSettings(), Screenshot: bridge.DefaultScreenshotSettings()}
	if looksLikeHTML(input) {
		j.HTML = input
	} else {
		j.URL = input
	}
	return j
}

// Extension is the file extension for the job's output, without the dot.
func (j Job) Extension() string {
	switch j.Kind {
	case KindScreenshot:
		if j.Screenshot.Format == "" {
			return "png"
		}
		return j.Screenshot.Format
	case KindSnapshot:
		return "mhtml"
	}
	return "pdf"
}

func looksLikeHTML(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '<':
			return true
		}
		return false
	}
	return false
}

// Result describes a finished conversion.
type Result struct {
	ID          string        `json:"id" yaml:"id"`
	Kind        Kind          `json:"kind" yaml:"kind"`
	ContentType string        `json:"contentType" yaml:"contentType"`
	Bytes       int64         `json:"bytes" yaml:"bytes"`
	ElapsedMS   int64         `json:"elapsedMs" yaml:"elapsedMs"`
	Elapsed     time.Duration `json:"-" yaml:"-"`
	// ConditionMet is false when WaitForWindowStatus never matched.
	ConditionMet bool `json:"conditionMet" yaml:"conditionMet"`
}

type Options struct {
	ConnectTimeout   time.Duration
	DefaultTimeout   time.Duration
	MediaLoadTimeout time.Duration
	BlockImages      bool
	BlockMedia       bool
	BlockTrackers    bool
	LogNetwork       bool
	CacheEnabled     bool
	// SharedBrowser closes only the page target after each conversion.
	SharedBrowser bool
	Log           *slog.Logger
	Dialer        bridge.Dialer
}

// OptionsFromConfig maps the runtime configuration onto converter options.
func OptionsFromConfig(cfg *config.RuntimeConfig, log *slog.Logger) Options {
	return Options{
		ConnectTimeout:   cfg.ConnectTimeout,
		DefaultTimeout:   cfg.ConversionTimeout,
		MediaLoadTimeout: cfg.MediaLoadTimeout,
		BlockImages:      cfg.BlockImages,
		BlockMedia:       cfg.BlockMedia,
		BlockTrackers:    cfg.BlockTrackers,
		LogNetwork:       cfg.LogNetwork,
		CacheEnabled:     cfg.CacheEnabled,
		Log:              log,
	}
}

type Converter struct {
	endpoint string
	opts     Options
	log      *slog.Logger
}

func New(endpoint string, opts Options) *Converter {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = time.Minute
	}
	return &Converter{endpoint: endpoint, opts: opts, log: opts.Log}
}

func (c *Converter) Endpoint() string { return c.endpoint }

// Validate checks a job without touching the browser.
func (c *Converter) Validate(job Job) error {
	if err := c.navigateRequest(job, nil).Validate(); err != nil {
		return err
	}
	switch job.Kind {
	case KindPDF, "":
		return job.PDF.Validate()
	case KindScreenshot:
		return job.Screenshot.Validate()
	case KindSnapshot:
		return nil
	}
	return fmt.Errorf("%w: unknown output %q", bridge.ErrInvalidRequest, job.Kind)
}

func (c *Converter) blacklist(job Job) ([]string, error) {
	lists := [][]string{}
	if c.opts.BlockMedia {
		lists = append(lists, bridge.MediaBlockPatterns)
	} else if c.opts.BlockImages {
		lists = append(lists, bridge.ImageBlockPatterns)
	}
	if c.opts.BlockTrackers {
		lists = append(lists, bridge.TrackerBlockPatterns)
	}
	for _, name := range job.BlockPresets {
		p, err := bridge.BlockPreset(name)
		if err != nil {
			return nil, err
		}
		lists = append(lists, p)
	}
	lists = append(lists, job.Blacklist)
	return bridge.CombineBlockPatterns(lists...), nil
}

func (c *Converter) navigateRequest(job Job, timer *countdown.Timer) bridge.NavigateRequest {
	cache := c.opts.CacheEnabled
	if job.CacheEnabled != nil {
		cache = *job.CacheEnabled
	}
	media := c.opts.MediaLoadTimeout
	if job.MediaLoadTimeout > 0 {
		media = time.Duration(job.MediaLoadTimeout) * time.Millisecond
	}
	return bridge.NavigateRequest{
		URL:              job.URL,
		HTML:             job.HTML,
		Headers:          job.Headers,
		CacheEnabled:     cache,
		SafeURLs:         job.SafeURLs,
		LogNetwork:       c.opts.LogNetwork || job.LogNetwork,
		Timer:            timer,
		MediaLoadTimeout: media,
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Convert runs job and writes its output to w.
func (c *Converter) Convert(ctx context.Context, job Job, w io.Writer) (Result, error) {
	if job.Kind == "" {
		job.Kind = KindPDF
	}
	if err := c.Validate(job); err != nil {
		return Result{}, err
	}
	blacklist, err := c.blacklist(job)
	if err != nil {
		return Result{}, err
	}

	id := job.ID
	if id == "" {
		id = idutil.ConversionID()
	}
	timeout := c.opts.DefaultTimeout
	if job.Timeout > 0 {
		timeout = time.Duration(job.Timeout) * time.Millisecond
	}
	timer := countdown.New(timeout)
	log := c.log.With("instance", id)
	res := Result{ID: id, Kind: job.Kind}

	connect := c.opts.ConnectTimeout
	if connect <= 0 || connect > timer.Remaining() {
		connect = timer.Remaining()
	}
	// Open reads a zero connect timeout as unbounded
	if timer.Expired() || connect <= 0 {
		return res, fmt.Errorf("%w: no time left to connect to %s", bridge.ErrTimeout, c.endpoint)
	}
	opts := []bridge.Option{bridge.WithLogger(c.log)}
	if c.opts.Dialer != nil {
		opts = append(opts, bridge.WithDialer(c.opts.Dialer))
	}
	if c.opts.SharedBrowser {
		opts = append(opts, bridge.WithTargetClose())
	}
	d, err := bridge.Open(ctx, c.endpoint, id, connect, opts...)
	if err != nil {
		if timer.Expired() && ctx.Err() == nil {
			return res, fmt.Errorf("%w: connecting: %v", bridge.ErrTimeout, err)
		}
		return res, err
	}
	defer func() { _ = d.Close() }()

	req := c.navigateRequest(job, timer)
	req.Blacklist = blacklist
	if err := d.Navigate(ctx, req); err != nil {
		return res, err
	}

	if job.RunJavascript != "" {
		if err := d.RunScript(ctx, job.RunJavascript, timer); err != nil {
			return res, err
		}
	}

	res.ConditionMet = true
	if job.WaitForWindowStatus != "" {
		wait := timer.Remaining()
		if job.WaitForWindowStatusTimeout > 0 {
			wait = min(wait, time.Duration(job.WaitForWindowStatusTimeout)*time.Millisecond)
		}
		ok, err := d.WaitForCondition(ctx, windowStatusExpression, job.WaitForWindowStatus, wait)
		if err != nil {
			return res, err
		}
		if !ok {
			log.Warn("window status not reached, exporting anyway", "expected", job.WaitForWindowStatus, "waited", wait)
		}
		res.ConditionMet = ok
	}

	cw := &countingWriter{w: w}
	switch job.Kind {
	case KindPDF:
		res.ContentType = "application/pdf"
		err = d.ExportPDF(ctx, job.PDF, cw, timer)
	case KindScreenshot:
		res.ContentType = job.Screenshot.ContentType()
		var buf []byte
		if buf, err = d.CaptureScreenshot(ctx, job.Screenshot, timer); err == nil {
			err = writeAll(cw, buf)
		}
	case KindSnapshot:
		res.ContentType = "multipart/related"
		var data string
		if data, err = d.CaptureSnapshot(ctx, timer); err == nil {
			err = writeAll(cw, []byte(data))
		}
	}
	res.Bytes = cw.n
	res.Elapsed = timer.Elapsed()
	res.ElapsedMS = res.Elapsed.Milliseconds()
	if err != nil {
		return res, err
	}
	log.Info("conversion complete", "output", string(job.Kind), "bytes", res.Bytes, "elapsed", res.Elapsed)
	return res, nil
}

func writeAll(w io.Writer, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("%w: write output: %v", bridge.ErrConversion, err)
	}
	return nil
}

// IsClientError reports errors caused by the job itself rather than the
// browser or the page.
func IsClientError(err error) bool {
	return errors.Is(err, bridge.ErrInvalidRequest)
}
