package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Base62Alphabet is the character set public identifiers are drawn from.
const Base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

type Config struct {
	// HTTP listen address, e.g. ":3000"
	Address string `env:"SERVER_ADDRESS" envDefault:":3000"`
	// Postgres DSN
	DatabaseURL string `env:"DATABASE_URL,required"`
	// Static bearer token required on the upload route
	APIToken string `env:"API_TOKEN,required"`

	// Take the client IP from the CF-Connecting-IP header
	UsingCloudflare bool `env:"USING_CLOUDFLARE" envDefault:"false"`
	// Expose GET /check
	EnableCheckRoute bool `env:"ENABLE_CHECK_ROUTE" envDefault:"true"`
	// Skip request logging on /check
	DisableCheckRouteLogs bool `env:"DISABLE_CHECK_ROUTE_LOGS" envDefault:"false"`

	// How long a record stays in the write-back cache before its
	// pending mutations are flushed and the entry is dropped
	CacheTime time.Duration `env:"CACHE_TIME" envDefault:"15m"`
	// Records older than this are reaped from the database
	RecordLifetime time.Duration `env:"RECORD_LIFETIME" envDefault:"8760h"`
	// Upper bound on every durable-store call
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	IdentifierLength int `env:"IDENTIFIER_LENGTH" envDefault:"11"`
	// Maximum accepted upload size in bytes (12 MiB default)
	MaxFileSize int `env:"MAX_FILE_SIZE" envDefault:"12582912"`

	AuthorizedMimeTypes []string `env:"AUTHORIZED_MIME_TYPES" envDefault:"image/jpeg,image/png,image/gif" envSeparator:","`

	NotFoundImagePath string `env:"NOT_FOUND_IMAGE_PATH" envDefault:"assets/not-found.jpg"`
	NotFoundImageType string `env:"NOT_FOUND_IMAGE_TYPE" envDefault:"image/jpeg"`

	UploadRateWindow time.Duration `env:"UPLOAD_RATE_WINDOW" envDefault:"5m"`
	UploadRateMax    int           `env:"UPLOAD_RATE_MAX" envDefault:"20"`
	ViewRateWindow   time.Duration `env:"VIEW_RATE_WINDOW" envDefault:"10m"`
	ViewRateMax      int           `env:"VIEW_RATE_MAX" envDefault:"100"`

	// Alphabet is not read from the environment; identifiers embedded in
	// URLs must survive config edits, so the character set is fixed.
	IdentifierAlphabet string
}

// Load reads .env if present and parses the environment into a Config.
func Load() (Config, error) {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.IdentifierAlphabet = Base62Alphabet

	if cfg.IdentifierLength <= 0 {
		return Config{}, fmt.Errorf("IDENTIFIER_LENGTH must be positive, got %d", cfg.IdentifierLength)
	}
	if cfg.MaxFileSize <= 0 {
		return Config{}, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", cfg.MaxFileSize)
	}
	if cfg.CacheTime <= 0 {
		return Config{}, fmt.Errorf("CACHE_TIME must be positive, got %s", cfg.CacheTime)
	}
	for i, mt := range cfg.AuthorizedMimeTypes {
		cfg.AuthorizedMimeTypes[i] = strings.TrimSpace(mt)
	}

	return cfg, nil
}

// MimeAuthorized reports whether the declared mime type is in the
// authorized list.
func (c Config) MimeAuthorized(mimeType string) bool {
	for _, mt := range c.AuthorizedMimeTypes {
		if mt == mimeType {
			return true
		}
	}
	return false
}
