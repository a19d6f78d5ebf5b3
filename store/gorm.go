package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/pixvault/pixvault/models"
)

// GormStore implements Store on top of a *gorm.DB. Every call is
// bounded by the configured timeout.
type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB, timeout time.Duration) *GormStore {
	return &GormStore{db: db, timeout: timeout}
}

func (s *GormStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *GormStore) FindByHash(ctx context.Context, hash string) (*models.Image, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var img models.Image
	err := s.db.WithContext(ctx).Where("content_hash = ?", hash).First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return &img, nil
}

func (s *GormStore) FindByPublicID(ctx context.Context, publicID string) (*models.Image, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var img models.Image
	err := s.db.WithContext(ctx).Where("public_id = ?", publicID).First(&img).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find by public id: %w", err)
	}
	return &img, nil
}

func (s *GormStore) Insert(ctx context.Context, img *models.Image) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	// Duplicate-key errors stay inspectable through the wrap.
	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *GormStore) Overwrite(ctx context.Context, img *models.Image) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.db.WithContext(ctx).Save(img).Error; err != nil {
		return fmt.Errorf("overwrite record: %w", err)
	}
	return nil
}
