package models

import (
	"time"
)

// Image is the authoritative durable record for one distinct payload.
// Exactly one row exists per content hash; the public id is never
// reassigned or reused.
type Image struct {
	ID           uint       `json:"-" gorm:"primaryKey"`
	PublicID     string     `json:"public_id" gorm:"uniqueIndex;size:32;not null"`
	ContentHash  string     `json:"content_hash" gorm:"uniqueIndex;size:128;not null"`
	Payload      []byte     `json:"-" gorm:"not null"`
	ByteSize     int64      `json:"byte_size" gorm:"not null"`
	OriginalName string     `json:"original_name" gorm:"not null"`
	MimeType     string     `json:"mime_type" gorm:"not null"`
	Views        int64      `json:"views" gorm:"not null;default:0"`
	LastViewedAt *time.Time `json:"last_viewed_at"`
	LastViewedBy *string    `json:"last_viewed_by"`
	UploadedBy   string     `json:"uploaded_by" gorm:"not null"`
	CreatedAt    time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Image) TableName() string {
	return "images"
}
