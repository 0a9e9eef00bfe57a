package chrome

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/pinchtab/pinchpdf/internal/config"
)

type versionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// ResolveBrowserURL turns a configured CDP address into a browser websocket
// endpoint. ws:// and wss:// URLs are returned unchanged; http(s)://host:port
// is asked for its endpoint through /json/version.
func ResolveBrowserURL(ctx context.Context, client *http.Client, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid cdp url %q", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
		return raw, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported cdp url scheme %q", u.Scheme)
	}

	if client == nil {
		client = http.DefaultClient
	}
	endpoint := strings.TrimSuffix(u.Scheme+"://"+u.Host+u.Path, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query %s: status %d", endpoint, resp.StatusCode)
	}

	var info versionInfo
	if err := json.UnmarshalRead(resp.Body, &info); err != nil {
		return "", fmt.Errorf("decode %s: %w", endpoint, err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%s reported no webSocketDebuggerUrl", endpoint)
	}
	slog.Debug("resolved browser endpoint", "browser", info.Browser, "protocol", info.ProtocolVersion, "endpoint", info.WebSocketDebuggerURL)
	return info.WebSocketDebuggerURL, nil
}

// Browser returns the endpoint to drive and a stop function that releases
// whatever was started for it.
func Browser(ctx context.Context, cfg *config.RuntimeConfig, log *slog.Logger) (string, func(context.Context) error, error) {
	if cfg.CdpURL != "" {
		rctx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.ConnectTimeout > 0 {
			rctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		}
		defer cancel()
		ws, err := ResolveBrowserURL(rctx, nil, cfg.CdpURL)
		if err != nil {
			return "", nil, err
		}
		log.Info("using remote chrome", "endpoint", ws)
		return ws, func(context.Context) error { return nil }, nil
	}

	p, err := Launch(ctx, Options{
		Binary:     cfg.ChromeBinary,
		Headless:   cfg.Headless,
		ExtraFlags: cfg.ChromeExtraFlags,
		Log:        log,
	})
	if err != nil {
		return "", nil, err
	}
	return p.WebSocketURL(), p.Stop, nil
}

// Probe checks that the browser behind a websocket endpoint still answers
// on its HTTP debugging interface.
func Probe(ctx context.Context, client *http.Client, wsURL string) error {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid browser endpoint %q", wsURL)
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	_, err = ResolveBrowserURL(ctx, client, scheme+"://"+u.Host)
	return err
}
