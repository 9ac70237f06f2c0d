package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/chatrelay/internal/inference"
	"github.com/Tyrowin/chatrelay/internal/server"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2

	shutdownTimeout = 10 * time.Second
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// a missing .env file is fine, the environment alone is enough
	_ = godotenv.Load()

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}
	infCfg, err := inference.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return exitConfig, err
	}
	slog.SetDefault(logger)

	inf := inference.NewClient(infCfg, logger)
	if !inf.Enabled() {
		logger.Info("inference service disabled: no API key configured")
	}

	hub := server.NewHub(*cfg, logger)
	server.StartHub(hub)

	listener, err := server.Listen(cfg.Port, cfg.PortFallbackAttempts, logger)
	if err != nil {
		_ = hub.Shutdown(shutdownTimeout)
		return exitRuntime, err
	}

	httpServer := server.CreateServer(listener.Addr().String(), server.SetupRoutes(server.NewHandlers(hub, inf)))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, listener, logger)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-stop:
		logger.Info("received signal", slog.String("signal", sig.String()))
	case runErr = <-serveErr:
		logger.Error("http server stopped", slog.Any("error", runErr))
	}

	shutdownErr := errors.Join(
		server.ShutdownServer(httpServer, shutdownTimeout, logger),
		hub.Shutdown(shutdownTimeout),
	)
	if runErr != nil {
		return exitRuntime, runErr
	}
	if shutdownErr != nil {
		return exitRuntime, shutdownErr
	}
	return exitOK, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}
