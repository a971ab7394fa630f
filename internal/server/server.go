// Package server exposes the recording controls over HTTP, pushes pipeline
// events to websocket clients and serves the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	// DefaultSource is used when a start request names no source.
	DefaultSource audio.Source
	// Metrics serves GET /metrics when set.
	Metrics  http.Handler
	Warnings func() []string
}

func Handler(hub *Hub, store RecordingStore, ctrl Controller, opts Options) (http.Handler, error) {
	if hub == nil || store == nil || ctrl == nil {
		return nil, errors.New("server: hub, store and controller are required")
	}

	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerControlRoutes(mux, ctrl, opts)
	registerArchiveRoutes(mux, store)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return mux, nil
}

// Serve listens on addr until ctx is done, then drains open requests.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("control API listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
