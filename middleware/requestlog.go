package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs every request with zerolog, tagging each with an
// X-Request-ID (honoring one supplied by the client). Paths listed in
// skipPaths are served silently.
func RequestLogger(skipPaths ...string) fiber.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *fiber.Ctx) error {
		if skip[c.Path()] {
			return c.Next()
		}

		start := time.Now()
		rid := c.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("X-Request-ID", rid)

		err := c.Next()

		status := c.Response().StatusCode()
		logger := log.With().
			Str("request_id", rid).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("remote_ip", IPFromLocals(c)).
			Str("user_agent", strings.TrimSpace(string(c.Request().Header.UserAgent()))).
			Logger()

		if status >= fiber.StatusInternalServerError || err != nil {
			logger.Error().Err(err).Int("status", status).Dur("duration", time.Since(start)).Msg("http request failed")
		} else {
			logger.Info().Int("status", status).Dur("duration", time.Since(start)).Msg("http request served")
		}
		return err
	}
}
