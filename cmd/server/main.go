package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Tyrowin/presencegw/internal/auth"
	"github.com/Tyrowin/presencegw/internal/directory"
	"github.com/Tyrowin/presencegw/internal/logger"
	"github.com/Tyrowin/presencegw/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "presence gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	config := server.NewConfigFromEnv()
	if err := config.Validate(); err != nil {
		return err
	}

	log, err := logger.New(config.LogLevel, config.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	server.SetConfig(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, closeDir, err := directory.Open(ctx, config.Directory)
	if err != nil {
		return err
	}
	defer closeDir()
	log.Info("User directory ready", zap.String("backend", config.Directory.Backend))

	verifier, err := auth.NewJWTVerifier(auth.Options{
		Secret: []byte(config.Auth.Secret),
		Alg:    config.Auth.Algorithm,
		Leeway: config.Auth.Leeway,
	})
	if err != nil {
		return err
	}

	registry := server.NewRegistry(dir, log.Named("registry"))
	gw := server.NewGateway(registry, verifier, dir, log.Named("gateway"), server.GatewayOptions{
		RequireActiveUser: config.RequireActiveUser,
		ExclusiveSessions: config.ExclusiveSessions,
	})
	server.StartGateway(gw)

	httpServer := server.CreateServer(config.Port, server.SetupRoutes(gw))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log.Named("http"))
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownErr := server.ShutdownServer(httpServer, config.ShutdownTimeout, log.Named("http"))
	if err := gw.Shutdown(config.ShutdownTimeout); err != nil {
		log.Warn("Gateway shutdown incomplete", zap.Error(err))
	}
	return shutdownErr
}
