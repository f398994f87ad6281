package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/server"
	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	cfg := server.NewConfigFromEnv()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	logger.Info("starting room chat server",
		"port", cfg.Port,
		"origins", cfg.AllowedOrigins,
		"max_message_size", cfg.MaxMessageSize,
		"rate_burst", cfg.RateLimit.Burst,
		"rate_interval", cfg.RateLimit.RefillInterval,
	)

	hub := chat.NewHub(cfg.HubOptions(logger))
	srv := server.New(cfg, hub, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				return srv.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
}
