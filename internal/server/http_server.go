// Package server constructs and starts the chat relay HTTP service with
// helpers that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartHub runs hub's event loop in a separate goroutine.
// This should be called before starting the HTTP server.
func StartHub(hub *Hub) {
	go hub.Run()
	hub.logger.Info("hub started and ready to manage websocket connections",
		slog.Int("history_capacity", hub.Store().Capacity()))
}

// Listen binds addr, or when that port is taken, each of the following
// ports in turn until attempts ports have been tried. Port 0 is bound once.
func Listen(addr string, attempts int, logger *slog.Logger) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	base, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	if attempts <= 0 || base == 0 {
		attempts = 1
	}

	var errs []error
	for offset := 0; offset < attempts; offset++ {
		candidate := net.JoinHostPort(host, strconv.Itoa(base+offset))
		l, err := net.Listen("tcp", candidate)
		if err == nil {
			return l, nil
		}
		logger.Warn("port unavailable", slog.String("addr", candidate), slog.Any("error", err))
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no free port in %d-%d: %w", base, base+attempts-1, errors.Join(errs...))
}

// StartServer serves HTTP on l and blocks until the server stops.
// http.ErrServerClosed is reported as a nil error.
func StartServer(server *http.Server, l net.Listener, logger *slog.Logger) error {
	logger.Info("server listening", slog.String("addr", l.Addr().String()))
	if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown", slog.Any("error", err))
		return err
	}

	logger.Info("http server shutdown completed")
	return nil
}
