package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultShutdownTimeout = 15 * time.Second

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	log := a.logger.WithComponent("app")

	if err := a.base.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}
	a.scheduler.Start()

	rtCtx, stopRealtime := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if a.deps.Realtime != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.deps.Realtime.Run(rtCtx); err != nil {
				log.WithError(err).Warn("realtime listener stopped")
			}
		}()
	}

	server := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("listening")
		serveErr <- server.Serve(ln)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	stopRealtime()
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("scheduler stop")
	}
	_ = a.base.Stop()
	wg.Wait()

	log.Info("stopped")
	return runErr
}
