// Package service orchestrates the upload and view pipelines on top of
// the durable store and the write-back cache.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pixvault/pixvault/cache"
	"github.com/pixvault/pixvault/config"
	"github.com/pixvault/pixvault/identifier"
	"github.com/pixvault/pixvault/imaging"
	"github.com/pixvault/pixvault/models"
	"github.com/pixvault/pixvault/store"
)

// Validation failures; rejected before anything is persisted.
var (
	ErrEmptyPayload    = errors.New("no file was uploaded or the file is empty")
	ErrPayloadTooLarge = errors.New("file exceeds the maximum allowed size")
	ErrMimeNotAllowed  = errors.New("declared mime type is not authorized")
	ErrBadSignature    = errors.New("file is not an image")
)

// ErrIdentifierExhausted is returned when a freshly generated public id
// collides twice in a row; with an 11-character base62 id this means
// something is badly wrong with the entropy source or the store.
var ErrIdentifierExhausted = errors.New("could not allocate a unique public id")

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrMimeNotAllowed) ||
		errors.Is(err, ErrBadSignature)
}

// UploadRequest is one ingestion call; consumed once, never persisted.
type UploadRequest struct {
	Payload          []byte
	DeclaredMimeType string
	OriginalName     string
	UploadedBy       string
}

type IngestResult struct {
	AlreadyExists bool
	PublicID      string
	ExtensionHint string
}

// RetrieveResult carries the response payload. Found is false when the
// id matched nothing and the configured fallback image is returned
// instead.
type RetrieveResult struct {
	Found        bool
	Payload      []byte
	MimeType     string
	OriginalName string
}

type Service struct {
	store    store.Store
	cache    *cache.Cache
	cfg      config.Config
	notFound []byte
	log      zerolog.Logger
}

func New(st store.Store, c *cache.Cache, cfg config.Config, notFoundImage []byte, log zerolog.Logger) *Service {
	return &Service{
		store:    st,
		cache:    c,
		cfg:      cfg,
		notFound: notFoundImage,
		log:      log,
	}
}

// Ingest validates and stores an upload. Identical bytes are never
// stored twice: a known content hash short-circuits to the existing
// record without re-validating the signature or touching the cache.
func (s *Service) Ingest(ctx context.Context, req UploadRequest) (IngestResult, error) {
	if len(req.Payload) == 0 {
		return IngestResult{}, ErrEmptyPayload
	}
	if len(req.Payload) > s.cfg.MaxFileSize {
		return IngestResult{}, ErrPayloadTooLarge
	}
	if !s.cfg.MimeAuthorized(req.DeclaredMimeType) {
		return IngestResult{}, ErrMimeNotAllowed
	}

	hash := imaging.Digest(req.Payload)

	existing, err := s.store.FindByHash(ctx, hash)
	if err == nil {
		return IngestResult{
			AlreadyExists: true,
			PublicID:      existing.PublicID,
			ExtensionHint: imaging.ExtensionFor(existing.MimeType),
		}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("dedup lookup: %w", err)
	}

	// The signature check runs only for content nobody has uploaded
	// before; the declared mime type carries no authority here.
	detected, ok := imaging.Sniff(req.Payload)
	if !ok || !s.cfg.MimeAuthorized(detected) {
		return IngestResult{}, ErrBadSignature
	}

	rec := &models.Image{
		ContentHash:  hash,
		Payload:      req.Payload,
		ByteSize:     int64(len(req.Payload)),
		OriginalName: req.OriginalName,
		MimeType:     req.DeclaredMimeType,
		UploadedBy:   req.UploadedBy,
	}

	res, err := s.insertWithRetry(ctx, rec, hash)
	if err != nil {
		return IngestResult{}, err
	}
	if res.AlreadyExists {
		// Lost a race against a concurrent upload of the same bytes.
		return res, nil
	}

	s.cache.Put(rec.PublicID, rec)
	s.log.Info().
		Str("public_id", rec.PublicID).
		Str("uploaded_by", req.UploadedBy).
		Int64("bytes", rec.ByteSize).
		Str("name", req.OriginalName).
		Msg("image uploaded")

	return res, nil
}

// insertWithRetry allocates a public id and inserts the record. A
// duplicate-key failure is disambiguated by re-querying the content
// hash: if the hash now exists the upload raced a twin and resolves as
// a dedup hit; otherwise the freshly drawn public id collided and one
// retry with a new id is allowed.
func (s *Service) insertWithRetry(ctx context.Context, rec *models.Image, hash string) (IngestResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		publicID, err := identifier.New(s.cfg.IdentifierLength, s.cfg.IdentifierAlphabet)
		if err != nil {
			return IngestResult{}, fmt.Errorf("generate public id: %w", err)
		}
		rec.PublicID = publicID

		err = s.store.Insert(ctx, rec)
		if err == nil {
			return IngestResult{
				PublicID:      publicID,
				ExtensionHint: imaging.ExtensionFor(rec.MimeType),
			}, nil
		}
		if !store.IsDuplicate(err) {
			return IngestResult{}, fmt.Errorf("store record: %w", err)
		}

		existing, ferr := s.store.FindByHash(ctx, hash)
		if ferr == nil {
			return IngestResult{
				AlreadyExists: true,
				PublicID:      existing.PublicID,
				ExtensionHint: imaging.ExtensionFor(existing.MimeType),
			}, nil
		}
		if !errors.Is(ferr, store.ErrNotFound) {
			return IngestResult{}, fmt.Errorf("dedup lookup after duplicate insert: %w", ferr)
		}

		s.log.Warn().Str("public_id", publicID).Msg("public id collision, regenerating")
	}
	return IngestResult{}, ErrIdentifierExhausted
}

// Retrieve serves a record by public id. An optional file extension is
// cosmetic; only the portion before the first '.' matters. Every
// successful serve counts the view in memory; the counter reaches the
// database on the record's next eviction flush.
func (s *Service) Retrieve(ctx context.Context, publicID, viewer string) (RetrieveResult, error) {
	id := strings.SplitN(publicID, ".", 2)[0]

	if rec, ok := s.cache.Get(id); ok {
		res := RetrieveResult{
			Found:        true,
			Payload:      rec.Payload,
			MimeType:     rec.MimeType,
			OriginalName: rec.OriginalName,
		}
		s.cache.Touch(id, viewer)
		s.log.Info().Str("public_id", id).Str("viewer", viewer).Bool("from_cache", true).Msg("image viewed")
		return res, nil
	}

	rec, err := s.store.FindByPublicID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return RetrieveResult{
			Payload:  s.notFound,
			MimeType: s.cfg.NotFoundImageType,
		}, nil
	}
	if err != nil {
		return RetrieveResult{}, fmt.Errorf("record lookup: %w", err)
	}

	s.cache.Put(id, rec)
	res := RetrieveResult{
		Found:        true,
		Payload:      rec.Payload,
		MimeType:     rec.MimeType,
		OriginalName: rec.OriginalName,
	}
	s.cache.Touch(id, viewer)
	s.log.Info().Str("public_id", id).Str("viewer", viewer).Bool("from_cache", false).Msg("image viewed")
	return res, nil
}
