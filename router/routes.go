package router

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/pixvault/pixvault/config"
	"github.com/pixvault/pixvault/handlers"
	"github.com/pixvault/pixvault/middleware"
)

func SetupRoutes(app *fiber.App, h *handlers.ImageHandler, cfg config.Config) {
	app.Use(middleware.ClientIP(cfg.UsingCloudflare))

	var skip []string
	if cfg.DisableCheckRouteLogs {
		skip = append(skip, "/check")
	}
	app.Use(middleware.RequestLogger(skip...))

	if cfg.EnableCheckRoute {
		app.Get("/check", h.Check)
	}

	app.Post("/upload/image",
		middleware.RateLimiter(cfg.UploadRateMax, cfg.UploadRateWindow),
		middleware.APITokenAuth(cfg.APIToken),
		h.Upload,
	)

	// Landing page and other static assets, when present.
	if _, err := os.Stat("./public"); err == nil {
		app.Static("/", "./public")
	}

	app.Get("/:id",
		middleware.RateLimiter(cfg.ViewRateMax, cfg.ViewRateWindow),
		h.View,
	)
}
