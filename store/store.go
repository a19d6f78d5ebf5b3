// Package store is the durable persistence boundary. The cache and the
// upload/view pipelines only ever talk to the Store interface; the
// production implementation is GORM over Postgres.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/pixvault/pixvault/models"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

type Store interface {
	// FindByHash looks a record up by its content hash.
	FindByHash(ctx context.Context, hash string) (*models.Image, error)

	// FindByPublicID looks a record up by its public identifier.
	FindByPublicID(ctx context.Context, publicID string) (*models.Image, error)

	// Insert creates a new record. Unique indexes on content_hash and
	// public_id reject duplicates; check with IsDuplicate.
	Insert(ctx context.Context, img *models.Image) error

	// Overwrite replaces the full durable state of an existing record.
	Overwrite(ctx context.Context, img *models.Image) error
}

// IsDuplicate reports whether err is a unique-index violation.
func IsDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
