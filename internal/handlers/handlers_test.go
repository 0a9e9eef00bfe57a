package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/pinchtab/pinchpdf/internal/bridge"
	"github.com/pinchtab/pinchpdf/internal/config"
	"github.com/pinchtab/pinchpdf/internal/converter"
	"github.com/pinchtab/pinchpdf/internal/logging"
)

type fakeConverter struct {
	mu      sync.Mutex
	jobs    []converter.Job
	output  string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeConverter) Validate(job converter.Job) error {
	return (&converter.Converter{}).Validate(job)
}

func (f *fakeConverter) Convert(ctx context.Context, job converter.Job, w io.Writer) (converter.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return converter.Result{}, ctx.Err()
		}
	}
	res := converter.Result{ID: "conv_test", Kind: job.Kind, ContentType: "application/pdf"}
	if f.err != nil {
		return res, f.err
	}
	n, _ := io.WriteString(w, f.output)
	res.Bytes = int64(n)
	return res, nil
}

func (f *fakeConverter) lastJob() converter.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[len(f.jobs)-1]
}

func newTestHandlers(t *testing.T, c Converter) (*Handlers, *http.ServeMux) {
	t.Helper()
	cfg := &config.RuntimeConfig{StateDir: t.TempDir(), MaxConcurrent: 2}
	h := New(cfg, c, nil, logging.Discard())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, nil)
	return h, mux
}

func post(mux http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func TestHandlePDFBase64(t *testing.T) {
	fc := &fakeConverter{output: "%PDF-1.7"}
	_, mux := newTestHandlers(t, fc)

	w := post(mux, "/pdf", `{"url":"http://example.test/","paper":"A4","pdf":{"landscape":true},"blacklist":["*.png"]}`)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	m := decodeBody(t, w)
	if m["base64"] != base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")) || m["id"] != "conv_test" {
		t.Errorf("body = %v", m)
	}

	job := fc.lastJob()
	if job.Kind != converter.KindPDF || job.URL != "http://example.test/" {
		t.Errorf("job = %+v", job)
	}
	if !job.PDF.Landscape || job.PDF.PaperWidth != 8.27 || !job.PDF.PrintBackground || job.PDF.Scale != 1 {
		t.Errorf("pdf settings not merged over defaults: %+v", job.PDF)
	}
	if len(job.Blacklist) != 1 {
		t.Errorf("blacklist = %v", job.Blacklist)
	}
}

func TestHandleScreenshotRaw(t *testing.T) {
	fc := &fakeConverter{output: "\x89PNG"}
	_, mux := newTestHandlers(t, fc)

	w := post(mux, "/screenshot?raw=true", `{"html":"<h1>hi</h1>"}`)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "\x89PNG" || w.Header().Get("X-Conversion-Id") != "conv_test" {
		t.Errorf("raw response = %q, headers %v", w.Body.String(), w.Header())
	}
	if job := fc.lastJob(); job.Kind != converter.KindScreenshot || job.Screenshot.Format != "png" {
		t.Errorf("job = %+v", job)
	}
}

func TestHandleConvertToFile(t *testing.T) {
	fc := &fakeConverter{output: "MIME-Version: 1.0"}
	h, mux := newTestHandlers(t, fc)

	w := post(mux, "/snapshot", `{"url":"http://example.test/","output":"file","path":"out/page.mhtml"}`)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	want := filepath.Join(h.Config.StateDir, "out", "page.mhtml")
	if m := decodeBody(t, w); m["path"] != want {
		t.Errorf("path = %v, want %s", m["path"], want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "MIME-Version: 1.0" {
		t.Errorf("file = %q (%v)", data, err)
	}

	w = post(mux, "/pdf", `{"url":"http://example.test/","output":"file"}`)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	path, _ := decodeBody(t, w)["path"].(string)
	if !strings.HasPrefix(path, filepath.Join(h.Config.StateDir, "pdfs")+string(filepath.Separator)) || !strings.HasSuffix(path, ".pdf") {
		t.Errorf("default path = %q", path)
	}
}

func TestHandleConvertFileFailureRemovesFile(t *testing.T) {
	fc := &fakeConverter{err: fmt.Errorf("%w: boom", bridge.ErrConversion)}
	h, mux := newTestHandlers(t, fc)

	w := post(mux, "/pdf", `{"url":"http://example.test/","output":"file","path":"x.pdf"}`)
	if w.Code != 500 {
		t.Errorf("status %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(h.Config.StateDir, "x.pdf")); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestHandleConvertRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{`, 400},
		{"no input", `{}`, 400},
		{"both inputs", `{"url":"http://x/","html":"<p></p>"}`, 400},
		{"bad paper", `{"url":"http://x/","paper":"B7"}`, 400},
		{"bad output", `{"url":"http://x/","output":"fax"}`, 400},
		{"bad scale", `{"url":"http://x/","pdf":{"scale":0}}`, 400},
		{"bad id", `{"url":"http://x/","id":"../../x"}`, 400},
		{"escaping path", `{"url":"http://x/","output":"file","path":"../../etc/x.pdf"}`, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeConverter{}
			_, mux := newTestHandlers(t, fc)
			w := post(mux, "/pdf", tt.body)
			if w.Code != tt.want {
				t.Errorf("status %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if len(fc.jobs) != 0 {
				t.Error("converter called for a rejected request")
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: x", bridge.ErrInvalidRequest), 400, "invalid_request"},
		{fmt.Errorf("%w: x", bridge.ErrTimeout), 504, "timeout"},
		{&bridge.NavigationError{URL: "http://x/", Text: "net::ERR_NAME_NOT_RESOLVED"}, 502, "navigation"},
		{&bridge.ScriptError{Description: "ReferenceError"}, 422, "script"},
		{fmt.Errorf("%w: x", bridge.ErrConnection), 503, "connection"},
		{fmt.Errorf("%w: x", bridge.ErrConversion), 500, "conversion"},
		{fmt.Errorf("%w: x", bridge.ErrProtocol), 500, "protocol"},
		{errors.New("other"), 500, "error"},
	}
	for _, tt := range tests {
		status, code, _ := statusFor(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("statusFor(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestNavigationErrorDetails(t *testing.T) {
	fc := &fakeConverter{err: &bridge.NavigationError{URL: "http://x/", Text: "net::ERR_NAME_NOT_RESOLVED"}}
	_, mux := newTestHandlers(t, fc)

	w := post(mux, "/pdf", `{"url":"http://x/"}`)
	if w.Code != 502 {
		t.Fatalf("status %d", w.Code)
	}
	details, _ := decodeBody(t, w)["details"].(map[string]any)
	if details["errorText"] != "net::ERR_NAME_NOT_RESOLVED" {
		t.Errorf("details = %v", details)
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	fc := &fakeConverter{output: "x", block: make(chan struct{}), started: make(chan struct{}, 4)}
	h := New(&config.RuntimeConfig{StateDir: t.TempDir(), MaxConcurrent: 1}, fc, nil, logging.Discard())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, nil)

	first := make(chan int)
	go func() { first <- post(mux, "/pdf", `{"url":"http://a/"}`).Code }()
	<-fc.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("POST", "/pdf", strings.NewReader(`{"url":"http://b/"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != 503 {
		t.Errorf("queued request status %d, want 503", w.Code)
	}

	close(fc.block)
	if code := <-first; code != 200 {
		t.Errorf("first request status %d", code)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.jobs) != 1 {
		t.Errorf("converter ran %d jobs, want 1", len(fc.jobs))
	}
}

func TestHandleHealth(t *testing.T) {
	cfg := &config.RuntimeConfig{CdpURL: "ws://127.0.0.1:9222/devtools/browser/x"}
	h := New(cfg, &fakeConverter{}, func(context.Context) error { return nil }, logging.Discard())

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != 200 || decodeBody(t, w)["status"] != "ok" {
		t.Errorf("healthy: %d %s", w.Code, w.Body.String())
	}

	h.Probe = func(context.Context) error { return errors.New("connection refused") }
	w = httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest("GET", "/health", nil))
	m := decodeBody(t, w)
	if w.Code != 503 || m["status"] != "disconnected" || m["error"] != "connection refused" {
		t.Errorf("unhealthy: %d %v", w.Code, m)
	}
}

func TestHandleMetricsCountsConversions(t *testing.T) {
	fc := &fakeConverter{output: "x"}
	_, mux := newTestHandlers(t, fc)

	before := metricConversions.Load()
	post(mux, "/pdf", `{"url":"http://a/"}`)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if got := decodeBody(t, w)["conversions"].(float64); uint64(got) != before+1 {
		t.Errorf("conversions = %v, want %d", got, before+1)
	}
}

func TestHandleShutdown(t *testing.T) {
	done := make(chan struct{})
	h := New(&config.RuntimeConfig{}, &fakeConverter{}, nil, logging.Discard())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, func() { close(done) })

	w := post(mux, "/shutdown", "")
	if w.Code != 200 {
		t.Errorf("status %d", w.Code)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("shutdown callback not invoked")
	}
}
