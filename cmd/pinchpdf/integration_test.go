//go:build integration

package main

import (
	"bytes"
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
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/pinchtab/pinchpdf/internal/chrome"
	"github.com/pinchtab/pinchpdf/internal/config"
	"github.com/pinchtab/pinchpdf/internal/converter"
	"github.com/pinchtab/pinchpdf/internal/handlers"
	"github.com/pinchtab/pinchpdf/internal/logging"
)

var (
	serverURL string
	stateDir  string
	browserWS string
)

// TestMain starts a real Chrome (or uses CDP_URL) and serves the HTTP API
// in-process. Without a browser the suite is skipped.
func TestMain(m *testing.M) {
	cfg := config.Load()
	cfg.Headless = true
	cfg.ConversionTimeout = 30 * time.Second
	cfg.Token = ""

	dir, err := os.MkdirTemp("", "pinchpdf-test-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	cfg.StateDir = dir
	stateDir = dir

	log, _ := logging.New(os.Stderr, "warn", "text")
	startTimeout := 30 * time.Second
	if os.Getenv("CI") == "true" {
		startTimeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	ws, stopChrome, err := chrome.Browser(ctx, cfg, log)
	cancel()
	if errors.Is(err, chrome.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "no chrome found, skipping integration tests")
		_ = os.RemoveAll(dir)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "chrome unavailable: %v\n", err)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}
	browserWS = ws

	opts := converter.OptionsFromConfig(cfg, log)
	opts.SharedBrowser = true
	conv := converter.New(ws, opts)
	h := handlers.New(cfg, conv, func(ctx context.Context) error { return chrome.Probe(ctx, nil, ws) }, log)
	h.Version = "integration"

	mux := http.NewServeMux()
	h.RegisterRoutes(mux, nil)
	srv := httptest.NewServer(h.Wrap(mux))
	serverURL = srv.URL

	code := m.Run()

	srv.Close()
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := stopChrome(sctx); err != nil {
		fmt.Fprintf(os.Stderr, "chrome stop: %v\n", err)
	}
	scancel()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

func httpPost(t *testing.T, path string, payload any) (int, []byte, http.Header) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, resp.Header
}

type convertReply struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Bytes        int64  `json:"bytes"`
	ConditionMet bool   `json:"conditionMet"`
	Base64       string `json:"base64"`
	Path         string `json:"path"`
	Code         string `json:"code"`
}

func decodeReply(t *testing.T, body []byte) convertReply {
	t.Helper()
	var r convertReply
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("bad reply %s: %v", body, err)
	}
	return r
}

const testDocument = `<html><body><h1>pinchpdf</h1><p>integration</p></body></html>`

func TestHealth(t *testing.T) {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("health = %d: %s", resp.StatusCode, body)
	}
}

func TestConvertPDFLibrary(t *testing.T) {
	conv := converter.New(browserWS, converter.Options{
		ConnectTimeout: 10 * time.Second,
		DefaultTimeout: 30 * time.Second,
		SharedBrowser:  true,
		Log:            logging.Discard(),
	})
	var buf bytes.Buffer
	res, err := conv.Convert(context.Background(), converter.NewJob(testDocument, converter.KindPDF), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("output does not start with %%PDF-: %q", buf.Bytes()[:min(16, buf.Len())])
	}
	if res.Bytes != int64(buf.Len()) {
		t.Errorf("result bytes = %d, wrote %d", res.Bytes, buf.Len())
	}
}

func TestPDFBase64(t *testing.T) {
	code, body, _ := httpPost(t, "/pdf", map[string]any{"html": testDocument, "paper": "A4"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	r := decodeReply(t, body)
	pdf, err := base64.StdEncoding.DecodeString(r.Base64)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Errorf("not a pdf: %q", pdf[:min(16, len(pdf))])
	}
}

func TestPDFRaw(t *testing.T) {
	code, body, hdr := httpPost(t, "/pdf?raw=true", map[string]any{"html": testDocument})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	if ct := hdr.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		t.Error("raw body is not a pdf")
	}
	if hdr.Get("X-Conversion-Id") == "" {
		t.Error("missing X-Conversion-Id")
	}
}

func TestPDFSaveFile(t *testing.T) {
	code, body, _ := httpPost(t, "/pdf", map[string]any{"html": testDocument, "output": "file", "path": "it/doc.pdf"})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	r := decodeReply(t, body)
	if !strings.HasSuffix(r.Path, filepath.Join("it", "doc.pdf")) {
		t.Errorf("path = %q", r.Path)
	}
	data, err := os.ReadFile(filepath.Join(stateDir, "it", "doc.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Error("saved file is not a pdf")
	}
}

func TestScreenshotWaitsForWindowStatus(t *testing.T) {
	doc := `<html><body><script>setTimeout(function(){window.status="done"},200)</script>ok</body></html>`
	code, body, _ := httpPost(t, "/screenshot", map[string]any{
		"html":                       doc,
		"waitForWindowStatus":        "done",
		"waitForWindowStatusTimeout": 5000,
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	r := decodeReply(t, body)
	if !r.ConditionMet {
		t.Error("window status was never reached")
	}
	img, err := base64.StdEncoding.DecodeString(r.Base64)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Error("not a png")
	}
}

func TestNavigationFailure(t *testing.T) {
	code, body, _ := httpPost(t, "/pdf", map[string]any{"url": "http://pinchpdf.invalid/"})
	if code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", code, body)
	}
	if r := decodeReply(t, body); r.Code != "navigation" {
		t.Errorf("code = %q", r.Code)
	}
}
