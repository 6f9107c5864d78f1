package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"hotelcctv/internal/config"
)

// handleHTTPServer starts the HTTP server and shuts it down when ctx is
// done. Listen errors are sent to errc.
func handleHTTPServer(ctx context.Context, cfg config.ServerConfig, handler http.Handler, wg *sync.WaitGroup, errc chan error, logger *zap.Logger) {
	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info("HTTP server listening", zap.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errc <- err:
				default:
				}
			}
		}()

		<-ctx.Done()
		logger.Info("Shutting down HTTP server", zap.String("addr", cfg.Addr))

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()
}
