package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ardiansr/wa-bridge/internal/bridge"
	"github.com/ardiansr/wa-bridge/internal/config"
	"github.com/ardiansr/wa-bridge/internal/handlers"
	"github.com/ardiansr/wa-bridge/internal/shared/utils"
)

func main() {
	_ = godotenv.Load()
	utils.InitLogger()

	cfg := config.LoadConfig()
	log.Info().Str("env", cfg.Env).Msg("Starting wa-bridge")

	core, err := bridge.New(cfg, bridge.WebhookPoster(cfg.WebhookURL))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build bridge core")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.Start(ctx)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	handlers.NewBridgeHandler(core).Register(app, cfg.APIKey)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("🚀 API listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("HTTP server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown error")
	}
	core.Shutdown()
	log.Info().Msg("Goodbye 👋")
}
