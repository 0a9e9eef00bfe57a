package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pinchtab/pinchpdf/internal/web"
)

const probeTimeout = 3 * time.Second

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "version": h.Version, "inflight": inflight.Load()}
	if h.Config.CdpURL != "" {
		body["cdp"] = h.Config.CdpURL
	}
	if h.Probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()
		if err := h.Probe(ctx); err != nil {
			body["status"] = "disconnected"
			body["error"] = err.Error()
			web.JSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	web.JSON(w, http.StatusOK, body)
}

func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	web.JSON(w, http.StatusOK, snapshotMetrics())
}

func (h *Handlers) HandleHelp(w http.ResponseWriter, _ *http.Request) {
	web.JSON(w, http.StatusOK, map[string]any{
		"name": "pinchpdf",
		"endpoints": map[string]any{
			"GET /health":      "browser reachability",
			"GET /metrics":     "runtime counters",
			"GET /help":        "this help payload",
			"POST /pdf":        "render a URL or inline HTML to PDF",
			"POST /screenshot": "capture a PNG, JPEG or WebP image",
			"POST /snapshot":   "save the page as MHTML",
			"POST /shutdown":   "stop the server",
		},
		"notes": []string{
			"Use Authorization: Bearer <token> when auth is enabled.",
			`Body: {"url": "..."} or {"html": "..."}; "output": "base64" (default), "raw" or "file".`,
		},
	})
}

func (h *Handlers) HandleShutdown(shutdownFn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Info("shutdown requested via API")
		web.JSON(w, http.StatusOK, map[string]any{"status": "shutting down"})

		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdownFn()
		}()
	}
}
