// Package server manages the serve command's lifecycle: signal handling,
// graceful HTTP shutdown, and ordered teardown of the state stores.
package server

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Lifecycle owns the resources that must be torn down when the process
// stops. Closers run in reverse registration order, so stores registered
// before the HTTP server outlive it.
type Lifecycle struct {
	shutdownTimeout time.Duration
	logger          *log.Logger

	mu      sync.Mutex
	closers []io.Closer
}

// NewLifecycle creates a lifecycle manager.
func NewLifecycle(shutdownTimeout time.Duration, logger *log.Logger) *Lifecycle {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Lifecycle{shutdownTimeout: shutdownTimeout, logger: logger}
}

// RegisterCloser adds a resource to close on shutdown, LIFO order.
func (l *Lifecycle) RegisterCloser(c io.Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, c)
}

// RegisterCloseFunc registers a plain function as a closer.
func (l *Lifecycle) RegisterCloseFunc(fn func() error) {
	l.RegisterCloser(closerFunc(fn))
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Serve runs the HTTP server until a termination signal arrives or ctx is
// cancelled, then shuts it down gracefully and closes registered resources.
func (l *Lifecycle) Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		l.logger.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		l.closeAll()
		return err
	case sig := <-sigCh:
		l.logger.Printf("received signal %v, shutting down", sig)
	case <-ctx.Done():
		l.logger.Printf("context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.logger.Printf("http shutdown: %v", err)
	}
	<-errCh

	return l.closeAll()
}

// closeAll closes registered resources in reverse order, returning the
// first error.
func (l *Lifecycle) closeAll() error {
	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
