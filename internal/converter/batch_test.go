package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/pinchtab/pinchpdf/internal/cdptest"
)

type memSink struct {
	mu   sync.Mutex
	bufs map[int]*bytes.Buffer
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func (s *memSink) open(i int, _ Job) (io.WriteCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bufs == nil {
		s.bufs = make(map[int]*bytes.Buffer)
	}
	buf := &bytes.Buffer{}
	s.bufs[i] = buf
	return nopCloser{buf}, fmt.Sprintf("mem-%d", i), nil
}

func TestConvertAll(t *testing.T) {
	b := cdptest.New()
	fakePage(b)
	c := newTestConverter(b, Options{})

	jobs := []Job{
		NewJob("http://one.test/", KindPDF),
		{URL: "http://two.test/", Kind: "gif"},
		NewJob("http://three.test/", KindPDF),
	}
	sink := &memSink{}
	out := c.ConvertAll(context.Background(), jobs, 2, sink.open)

	if len(out) != 3 {
		t.Fatalf("got %d outcomes", len(out))
	}
	for i, o := range out {
		if o.Index != i || o.Input != jobs[i].URL {
			t.Errorf("outcome %d = %+v", i, o)
		}
	}
	if out[0].Error != "" || out[2].Error != "" || out[1].Error == "" {
		t.Errorf("errors = %q, %q, %q", out[0].Error, out[1].Error, out[2].Error)
	}
	if Failed(out) != 1 {
		t.Errorf("Failed = %d", Failed(out))
	}
	if sink.bufs[0].String() != "%PDF-1.7" || out[0].Output != "mem-0" {
		t.Errorf("first output = %q at %q", sink.bufs[0].String(), out[0].Output)
	}
}

func TestConvertAllSinkError(t *testing.T) {
	b := cdptest.New()
	c := newTestConverter(b, Options{})

	out := c.ConvertAll(context.Background(), []Job{NewJob("http://x/", KindPDF)}, 0,
		func(int, Job) (io.WriteCloser, string, error) { return nil, "", errors.New("read-only dir") })
	if out[0].Error != "read-only dir" {
		t.Errorf("error = %q", out[0].Error)
	}
	if len(b.Dials()) != 0 {
		t.Error("converted without a destination")
	}
}

func TestConvertAllCancelled(t *testing.T) {
	b := cdptest.New()
	c := newTestConverter(b, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memSink{}
	out := c.ConvertAll(ctx, []Job{NewJob("http://x/", KindPDF), NewJob("http://y/", KindPDF)}, 1, sink.open)
	if Failed(out) != 2 {
		t.Errorf("Failed = %d, want 2", Failed(out))
	}
}

func TestDescribeTruncatesMarkup(t *testing.T) {
	long := "<html><body>" + string(bytes.Repeat([]byte("x"), 100)) + "</body></html>"
	if got := describe(Job{HTML: long}); len(got) != 43 {
		t.Errorf("describe = %q", got)
	}
}
