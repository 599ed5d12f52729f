package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/api"
)

// serveHTTP starts the operator API on addr and shuts it down gracefully
// when ctx is done.
func serveHTTP(ctx context.Context, addr string, s *api.Server, shutdownTimeout time.Duration, log *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: time.Second * 60}
	for _, m := range s.Mounts {
		log.Debug("HTTP endpoint mounted", zap.String("method", m.Method), zap.String("verb", m.Verb), zap.String("pattern", m.Pattern))
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server", zap.String("addr", addr))
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("Failed to shutdown HTTP server", zap.Error(err))
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
