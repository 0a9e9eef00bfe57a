// Package handlers provides the HTTP surface of the conversion server.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/pinchtab/pinchpdf/internal/config"
	"github.com/pinchtab/pinchpdf/internal/converter"
	"golang.org/x/sync/semaphore"
)

const maxBodySize = 8 << 20

// Converter runs conversions; *converter.Converter satisfies it.
type Converter interface {
	Validate(job converter.Job) error
	Convert(ctx context.Context, job converter.Job, w io.Writer) (converter.Result, error)
}

type Handlers struct {
	Config    *config.RuntimeConfig
	Converter Converter
	// Probe reports whether the browser is reachable. Nil skips the check.
	Probe   func(ctx context.Context) error
	Version string

	sem *semaphore.Weighted
	log *slog.Logger
}

func New(cfg *config.RuntimeConfig, c Converter, probe func(context.Context) error, log *slog.Logger) *Handlers {
	n := cfg.MaxConcurrent
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		Config:    cfg,
		Converter: c,
		Probe:     probe,
		sem:       semaphore.NewWeighted(int64(n)),
		log:       log,
	}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux, doShutdown func()) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("GET /help", h.HandleHelp)
	mux.HandleFunc("POST /pdf", h.HandleConvert(converter.KindPDF))
	mux.HandleFunc("POST /screenshot", h.HandleConvert(converter.KindScreenshot))
	mux.HandleFunc("POST /snapshot", h.HandleConvert(converter.KindSnapshot))

	if doShutdown != nil {
		mux.HandleFunc("POST /shutdown", h.HandleShutdown(doShutdown))
	}
}

// Wrap applies the middleware chain used by the server.
func (h *Handlers) Wrap(next http.Handler) http.Handler {
	return LoggingMiddleware(h.log, RequestIDMiddleware(CorsMiddleware(AuthMiddleware(h.Config, RateLimitMiddleware(next)))))
}
