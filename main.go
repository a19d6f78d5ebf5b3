package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/pixvault/pixvault/cache"
	"github.com/pixvault/pixvault/config"
	"github.com/pixvault/pixvault/database"
	"github.com/pixvault/pixvault/handlers"
	"github.com/pixvault/pixvault/logging"
	"github.com/pixvault/pixvault/models"
	"github.com/pixvault/pixvault/router"
	"github.com/pixvault/pixvault/service"
	"github.com/pixvault/pixvault/store"
)

const reapInterval = time.Hour

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	log.Info().Msg("database connected")

	if err := database.MigrateModels(db, &models.Image{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	notFoundImage, err := os.ReadFile(cfg.NotFoundImagePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.NotFoundImagePath).Msg("failed to read not-found image")
	}

	st := store.NewGormStore(db, cfg.StoreTimeout)
	imgCache := cache.New(st, cfg.CacheTime, cfg.StoreTimeout, log.Logger)
	svc := service.New(st, imgCache, cfg, notFoundImage, log.Logger)

	reaper := store.NewReaper(db, cfg.RecordLifetime, reapInterval, log.Logger)
	reaper.Start()

	app := fiber.New(fiber.Config{
		// Leave headroom for multipart framing around the payload.
		BodyLimit:             cfg.MaxFileSize + 1024*1024,
		DisableStartupMessage: true,
	})
	router.SetupRoutes(app, handlers.NewImageHandler(svc), cfg)

	go func() {
		log.Info().Str("address", cfg.Address).Msg("server listening")
		if err := app.Listen(cfg.Address); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("failed to shut down server")
	}
	reaper.Stop()
	// Flush pending view counters before the process exits.
	imgCache.Close()
	if err := database.Close(db); err != nil {
		log.Error().Err(err).Msg("failed to close database connection")
	}
}
