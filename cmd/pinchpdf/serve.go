package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pinchtab/pinchpdf/internal/chrome"
	"github.com/pinchtab/pinchpdf/internal/config"
	"github.com/pinchtab/pinchpdf/internal/converter"
	"github.com/pinchtab/pinchpdf/internal/handlers"
)

const readHeaderTimeout = 10 * time.Second

func runServe(cfg *config.RuntimeConfig, log *slog.Logger) int {
	if err := os.MkdirAll(cfg.StateDir, 0750); err != nil {
		log.Error("cannot create state dir", "err", err)
		return 1
	}

	ws, stopChrome, err := chrome.Browser(context.Background(), cfg, log)
	if err != nil {
		log.Error("chrome unavailable", "err", err, "hint", "set CDP_URL or CHROME_BINARY")
		return 1
	}

	opts := converter.OptionsFromConfig(cfg, log)
	opts.SharedBrowser = true
	conv := converter.New(ws, opts)

	probe := func(ctx context.Context) error { return chrome.Probe(ctx, nil, ws) }
	h := handlers.New(cfg, conv, probe, log)
	h.Version = version

	mux := http.NewServeMux()
	srv := newServer(cfg, nil)

	var once sync.Once
	stopped := make(chan struct{})
	doShutdown := func() {
		once.Do(func() {
			defer close(stopped)
			log.Info("shutting down, draining conversions", "timeout", cfg.ShutdownTimeout)
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn("server shutdown", "err", err)
			}
			if err := stopChrome(ctx); err != nil {
				log.Warn("chrome stop", "err", err)
			}
			log.Info("chrome closed")
		})
	}
	h.RegisterRoutes(mux, doShutdown)
	srv.Handler = h.Wrap(mux)

	setupSignalHandler(log, doShutdown, func() {
		_ = srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = stopChrome(ctx)
	})

	log.Info("pinchpdf listening", "addr", cfg.ListenAddr(), "browser", ws, "maxConcurrent", cfg.MaxConcurrent)
	if cfg.Token != "" {
		log.Info("auth enabled")
	} else {
		log.Info("auth disabled (set PINCHPDF_TOKEN to enable)")
	}

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error("server", "err", err)
		doShutdown()
		return 1
	}
	<-stopped
	return 0
}

// newServer sizes the server timeouts around the conversion timeout so a
// slow render is not cut off mid-response.
func newServer(cfg *config.RuntimeConfig, handler http.Handler) *http.Server {
	write := cfg.ConversionTimeout + 30*time.Second
	return &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       2 * write,
	}
}

func setupSignalHandler(log *slog.Logger, shutdownFn func(), forceFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		log.Warn("force shutdown requested")
		forceFn()
		os.Exit(130)
	}()
}
